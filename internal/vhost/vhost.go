// Package vhost rewrites virtual-hosted-style S3 requests
// (<bucket>.<host>/<key>) into path-style form (<host>/<bucket>/<key>)
// before they reach the operation parser (C3), so the rest of the stack
// only ever has to reason about one addressing scheme (C8).
package vhost

import (
	"net/http"
	"strings"
)

// Rewriter strips a configured base domain suffix from the request Host
// header and, when present, promotes the bucket label in front of it onto
// the URL path.
type Rewriter struct {
	// BaseDomain is the gateway's own domain, e.g. "s3.example.com". A
	// request Host of "mybucket.s3.example.com" is treated as virtual-host
	// style for bucket "mybucket"; a Host that is exactly BaseDomain, or
	// that doesn't end in it at all, is left as path-style.
	BaseDomain string
}

// New creates a Rewriter for baseDomain. An empty baseDomain disables
// virtual-host rewriting entirely (every request is treated as path-style).
func New(baseDomain string) *Rewriter {
	return &Rewriter{BaseDomain: strings.ToLower(baseDomain)}
}

// Bucket extracts the bucket label from host if host is a virtual-hosted
// address under r.BaseDomain, stripping an optional port. It returns
// ok=false for the bare base domain or any host that isn't a subdomain of
// it.
func (r *Rewriter) Bucket(host string) (bucket string, ok bool) {
	if r.BaseDomain == "" {
		return "", false
	}
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	suffix := "." + r.BaseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	bucket = strings.TrimSuffix(host, suffix)
	if bucket == "" || strings.Contains(bucket, ".") {
		// A bare base-domain request, or a host with more subdomain
		// levels than just "<bucket>.<base>", isn't a recognized
		// virtual-hosted address.
		return "", false
	}
	return bucket, true
}

// Middleware wraps next, rewriting req.URL.Path to "/<bucket><path>"
// whenever the incoming request is virtual-hosted style, so downstream
// handlers only ever see path-style paths. req.Host is left unchanged.
func (r *Rewriter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if bucket, ok := r.Bucket(req.Host); ok {
			req.URL.Path = "/" + bucket + req.URL.Path
			if req.URL.RawPath != "" {
				req.URL.RawPath = "/" + bucket + req.URL.RawPath
			}
		}
		next.ServeHTTP(w, req)
	})
}
