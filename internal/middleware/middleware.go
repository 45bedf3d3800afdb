// Package middleware implements the two request-processing layers that sit
// between virtual-host rewriting (internal/vhost) and the request
// dispatcher: CORS decoration (C10) and request authorization (C9).
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/auth"
	"github.com/openendpoint/simples3/internal/iam"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/s3err"
	"github.com/openendpoint/simples3/internal/s3op"
)

// contextKey is the context key type the auth middleware uses to hand
// the already-parsed Operation and any anonymous-access marker down to the
// dispatcher and handlers, so nobody re-parses the request path twice.
type contextKey string

const (
	operationKey      contextKey = "s3-operation"
	publicOnlyListKey contextKey = "s3-public-only-list"
)

// OperationFromContext returns the Operation parsed by Auth, if any.
func OperationFromContext(r *http.Request) (s3op.Operation, bool) {
	op, ok := r.Context().Value(operationKey).(s3op.Operation)
	return op, ok
}

// PublicOnlyList reports whether ListObjectsV2 must filter its contents down
// to public=true objects (spec §4.9 step 3's "public-objects-only" marker).
func PublicOnlyList(r *http.Request) bool {
	v, _ := r.Context().Value(publicOnlyListKey).(bool)
	return v
}

// RequestID stamps every request with a correlation id and echoes it back
// to the client.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = fmt.Sprintf("%d", time.Now().UnixNano())
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Recoverer converts a panic in any downstream handler into a 500 instead of
// killing the goroutine mid-response, logging the panic value via zap.
func Recoverer(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorw("panic recovered", "panic", rec, "path", r.URL.Path)
					s3err.WriteTo(w, s3err.Internal(fmt.Errorf("panic: %v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one structured line per request after it completes.
func AccessLog(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// MaxBodySize rejects requests whose declared Content-Length exceeds max and
// caps the body reader for requests that lie about it.
func MaxBodySize(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				s3err.WriteTo(w, s3err.InvalidArgument("request body exceeds the configured maximum size"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

// --- C10: CORS middleware ---

// CORSSource resolves the per-bucket CORS rules configured via
// PutBucketCORS, returning ok=false when the bucket has none.
type CORSSource func(bucket string) (rules []metadata.CORSRule, ok bool)

// CORS implements spec §4.10: preflight short-circuiting and response
// decoration, matched first against a bucket's own CorsConfiguration, then
// against the process-wide config.cors_origins fallback.
func CORS(source CORSSource, globalOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			bucket := firstPathSegment(r.URL.Path)

			if r.Method == http.MethodOptions && origin != "" {
				if rule, ok := matchBucketCORS(source, bucket, origin); ok {
					writeCORSHeaders(w, rule, origin, r.Header.Get("Access-Control-Request-Headers"))
					w.WriteHeader(http.StatusOK)
					return
				}
				if allowed, echoed := matchGlobalCORS(globalOrigins, origin); allowed {
					writeGlobalCORSHeaders(w, echoed, origin)
				}
				w.WriteHeader(http.StatusOK)
				return
			}

			if origin != "" {
				if rule, ok := matchBucketCORS(source, bucket, origin); ok {
					writeCORSHeaders(w, rule, origin, "")
				} else if allowed, echoed := matchGlobalCORS(globalOrigins, origin); allowed {
					writeGlobalCORSHeaders(w, echoed, origin)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func firstPathSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

func matchBucketCORS(source CORSSource, bucket, origin string) (metadata.CORSRule, bool) {
	if bucket == "" || source == nil {
		return metadata.CORSRule{}, false
	}
	rules, ok := source(bucket)
	if !ok {
		return metadata.CORSRule{}, false
	}
	for _, rule := range rules {
		for _, pattern := range rule.AllowedOrigins {
			if originPatternMatches(pattern, origin) {
				return rule, true
			}
		}
	}
	return metadata.CORSRule{}, false
}

// matchGlobalCORS implements the fallback: allow "*" when config.cors_origins
// is empty, else echo the origin if it matches one of the configured
// patterns, else no CORS headers at all (still 200 on preflight).
func matchGlobalCORS(globalOrigins []string, origin string) (allowed bool, echoed string) {
	if len(globalOrigins) == 0 {
		return true, "*"
	}
	for _, pattern := range globalOrigins {
		if originPatternMatches(pattern, origin) {
			return true, origin
		}
	}
	return false, ""
}

// originPatternMatches implements spec §4.10's pattern rule: exact "*",
// exact match, or a single "*" embedded once with fixed prefix/suffix.
func originPatternMatches(pattern, origin string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == origin {
		return true
	}
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 || strings.IndexByte(pattern[idx+1:], '*') >= 0 {
		return false
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix)
}

func writeCORSHeaders(w http.ResponseWriter, rule metadata.CORSRule, origin, requestedHeaders string) {
	allowsWildcard := false
	for _, o := range rule.AllowedOrigins {
		if o == "*" {
			allowsWildcard = true
			break
		}
	}
	if allowsWildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if len(rule.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(rule.AllowedMethods, ", "))
	}
	if len(rule.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(rule.AllowedHeaders, ", "))
	} else if requestedHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", requestedHeaders)
	}
	if len(rule.ExposeHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(rule.ExposeHeaders, ", "))
	}
	if rule.MaxAgeSeconds > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(rule.MaxAgeSeconds))
	}
}

func writeGlobalCORSHeaders(w http.ResponseWriter, echoed, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", echoed)
	if echoed != "*" {
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, HEAD, OPTIONS")
}

// --- C9: auth middleware ---

// Auth implements spec §4.9's precedence chain. It depends only on the
// already-built C3/C4/C5/C6 packages.
type Auth struct {
	Verifier        *auth.Auth
	Store           metadata.Store
	AnonymousGlobal bool
	Logger          *zap.SugaredLogger
}

// Middleware returns the http middleware enforcing the chain described in
// spec §4.9. It parses the operation once via s3op.Parse and stashes it in
// the request context for downstream handlers and the dispatcher.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := s3op.Parse(r.Method, r.URL.Path, r.URL.Query())
		r = r.WithContext(context.WithValue(r.Context(), operationKey, op))

		if r.URL.Query().Get("X-Amz-Algorithm") != "" {
			if _, err := a.Verifier.Verify(r); err != nil {
				s3err.WriteTo(w, s3err.ErrAccessDenied())
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") == "" {
			a.serveAnonymous(w, r, next, op)
			return
		}

		a.serveSigned(w, r, next, op)
	})
}

// serveAnonymous implements spec §4.9 step 3.
func (a *Auth) serveAnonymous(w http.ResponseWriter, r *http.Request, next http.Handler, op s3op.Operation) {
	if a.AnonymousGlobal {
		next.ServeHTTP(w, r)
		return
	}

	if op.HasBucket() {
		bucket, err := a.Store.GetBucket(r.Context(), op.Bucket)
		if err == nil {
			if op.IsReadOnly() && bucket.AnonymousRead {
				next.ServeHTTP(w, r)
				return
			}
			switch op.Kind {
			case s3op.GetObject, s3op.HeadObject, s3op.GetObjectTagging:
				if obj, err := a.Store.GetObject(r.Context(), op.Bucket, op.Key); err == nil && obj.Public {
					next.ServeHTTP(w, r)
					return
				}
			case s3op.ListObjectsV2:
				if bucket.AnonymousListPublic {
					ctx := context.WithValue(r.Context(), publicOnlyListKey, true)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			if decision := a.evaluateBucketPolicy(r, bucket.Name, "*"); decision != iam.ImplicitDeny {
				if decision == iam.ExplicitAllow {
					next.ServeHTTP(w, r)
				} else {
					s3err.WriteTo(w, s3err.ErrAccessDenied())
				}
				return
			}
		}
	}
	s3err.WriteTo(w, s3err.ErrAccessDenied())
}

// serveSigned implements spec §4.9 step 4.
func (a *Auth) serveSigned(w http.ResponseWriter, r *http.Request, next http.Handler, op s3op.Operation) {
	result, err := a.Verifier.Verify(r)
	if err != nil {
		s3err.WriteTo(w, s3err.ErrSignatureDoesNotMatch())
		return
	}

	cred, err := a.Store.GetCredential(r.Context(), result.AccessKeyID)
	if err != nil || !cred.Active {
		s3err.WriteTo(w, s3err.ErrAccessDenied())
		return
	}

	if op.HasBucket() {
		if decision := a.evaluateBucketPolicy(r, op.Bucket, result.AccessKeyID); decision == iam.ExplicitDeny {
			s3err.WriteTo(w, s3err.ErrAccessDenied())
			return
		}
	}
	next.ServeHTTP(w, r)
}

func (a *Auth) evaluateBucketPolicy(r *http.Request, bucket, principal string) iam.Decision {
	doc, err := a.Store.GetBucketPolicy(r.Context(), bucket)
	if err != nil || len(doc) == 0 {
		return iam.ImplicitDeny
	}
	policy, err := iam.ParsePolicy(doc)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warnw("malformed bucket policy", "bucket", bucket, "error", err)
		}
		return iam.ImplicitDeny
	}
	op := s3op.Parse(r.Method, r.URL.Path, r.URL.Query())
	resource := iam.ResourceARN(bucket, op.Key)
	rc := &iam.RequestContext{
		SourceIP:        sourceIP(r),
		CurrentTime:     time.Now().UTC(),
		SecureTransport: isSecureTransport(r),
		Prefix:          r.URL.Query().Get("prefix"),
	}
	return iam.Evaluate(policy, principal, op.Kind.ActionToken(), resource, rc)
}

func sourceIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func isSecureTransport(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto == "https"
	}
	return r.TLS != nil
}
