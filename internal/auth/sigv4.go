// Package auth implements SigV4 request verification (C4): both the
// header-based Authorization form and the presigned-query-string form,
// using constant-time signature comparison so timing never leaks how many
// leading bytes of a guessed signature were correct.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const algorithm = "AWS4-HMAC-SHA256"

// CredentialLookup resolves an access key ID to its secret, returning
// ok=false if the access key is unknown or revoked.
type CredentialLookup func(accessKeyID string) (secretAccessKey string, ok bool)

// Auth verifies SigV4-signed requests against a credential source.
type Auth struct {
	lookup CredentialLookup
}

// New creates an Auth that resolves credentials via lookup.
func New(lookup CredentialLookup) *Auth {
	return &Auth{lookup: lookup}
}

// Result is the identity established by a verified request.
type Result struct {
	AccessKeyID string
}

// ErrNoSignature indicates the request carried neither an Authorization
// header nor presigned query parameters — it is anonymous.
var ErrNoSignature = fmt.Errorf("auth: request is unsigned")

// Verify checks req's signature, dispatching to the header or presigned
// form. It returns ErrNoSignature for anonymous requests so callers can
// fall back to anonymous-access bucket policy evaluation rather than
// treating "no signature" as a hard failure.
func (a *Auth) Verify(req *http.Request) (*Result, error) {
	if req.URL.Query().Get("X-Amz-Signature") != "" {
		return a.verifyPresigned(req)
	}
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return nil, ErrNoSignature
	}
	if !strings.HasPrefix(authHeader, algorithm) {
		return nil, fmt.Errorf("auth: unsupported authorization scheme")
	}
	return a.verifyHeader(req, authHeader)
}

type parsedAuth struct {
	accessKeyID   string
	dateStamp     string
	region        string
	service       string
	signedHeaders []string
	signature     string
}

// parseAuthorizationHeader parses:
//
//	AWS4-HMAC-SHA256 Credential=AKID/20260801/us-east-1/s3/aws4_request,
//	SignedHeaders=host;x-amz-date,Signature=<hex>
func parseAuthorizationHeader(header string) (*parsedAuth, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(header, algorithm))
	fields := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("auth: malformed authorization header")
		}
		fields[kv[0]] = kv[1]
	}
	cred := fields["Credential"]
	signedHeaders := fields["SignedHeaders"]
	signature := fields["Signature"]
	if cred == "" || signedHeaders == "" || signature == "" {
		return nil, fmt.Errorf("auth: missing Credential, SignedHeaders, or Signature")
	}
	credParts := strings.Split(cred, "/")
	if len(credParts) != 5 {
		return nil, fmt.Errorf("auth: malformed credential scope")
	}
	return &parsedAuth{
		accessKeyID:   credParts[0],
		dateStamp:     credParts[1],
		region:        credParts[2],
		service:       credParts[3],
		signedHeaders: strings.Split(signedHeaders, ";"),
		signature:     signature,
	}, nil
}

func (a *Auth) verifyHeader(req *http.Request, authHeader string) (*Result, error) {
	parsed, err := parseAuthorizationHeader(authHeader)
	if err != nil {
		return nil, err
	}
	secret, ok := a.lookup(parsed.accessKeyID)
	if !ok {
		return nil, fmt.Errorf("auth: unknown access key")
	}

	amzDate := req.Header.Get("X-Amz-Date")
	if amzDate == "" {
		return nil, fmt.Errorf("auth: missing X-Amz-Date header")
	}
	if _, err := time.Parse("20060102T150405Z", amzDate); err != nil {
		return nil, fmt.Errorf("auth: invalid X-Amz-Date: %w", err)
	}

	payloadHash := req.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = "UNSIGNED-PAYLOAD"
	}

	canonicalRequest := buildCanonicalRequest(req, parsed.signedHeaders, req.URL.RawQuery, payloadHash)
	stringToSign := buildStringToSign(amzDate, parsed.dateStamp, parsed.region, parsed.service, canonicalRequest)
	expected := calculateSignature(secret, parsed.dateStamp, parsed.region, parsed.service, stringToSign)

	if !constantTimeEqualHex(expected, parsed.signature) {
		return nil, fmt.Errorf("auth: signature does not match")
	}
	return &Result{AccessKeyID: parsed.accessKeyID}, nil
}

func (a *Auth) verifyPresigned(req *http.Request) (*Result, error) {
	q := req.URL.Query()
	if q.Get("X-Amz-Algorithm") != algorithm {
		return nil, fmt.Errorf("auth: unsupported presigned algorithm")
	}
	credential := q.Get("X-Amz-Credential")
	signedHeadersParam := q.Get("X-Amz-SignedHeaders")
	signature := q.Get("X-Amz-Signature")
	amzDate := q.Get("X-Amz-Date")
	expiresParam := q.Get("X-Amz-Expires")
	if credential == "" || signedHeadersParam == "" || signature == "" || amzDate == "" || expiresParam == "" {
		return nil, fmt.Errorf("auth: missing presigned parameters")
	}

	credParts := strings.Split(credential, "/")
	if len(credParts) != 5 {
		return nil, fmt.Errorf("auth: malformed credential scope")
	}
	accessKeyID, dateStamp, region, service := credParts[0], credParts[1], credParts[2], credParts[3]

	secret, ok := a.lookup(accessKeyID)
	if !ok {
		return nil, fmt.Errorf("auth: unknown access key")
	}

	requestTime, err := time.Parse("20060102T150405Z", amzDate)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid X-Amz-Date: %w", err)
	}
	expiresSeconds, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil || expiresSeconds <= 0 {
		return nil, fmt.Errorf("auth: invalid X-Amz-Expires")
	}
	elapsed := time.Since(requestTime)
	if elapsed > time.Duration(expiresSeconds)*time.Second || elapsed < 0 {
		return nil, fmt.Errorf("auth: presigned URL has expired")
	}

	// The signature itself is excluded from what was signed; every other
	// query parameter, including X-Amz-Signature's siblings, is included.
	signingQuery := excludeQueryParam(req.URL.RawQuery, "X-Amz-Signature")

	canonicalRequest := buildCanonicalRequest(req, strings.Split(signedHeadersParam, ";"), signingQuery, "UNSIGNED-PAYLOAD")
	stringToSign := buildStringToSign(amzDate, dateStamp, region, service, canonicalRequest)
	expected := calculateSignature(secret, dateStamp, region, service, stringToSign)

	if !constantTimeEqualHex(expected, signature) {
		return nil, fmt.Errorf("auth: signature does not match")
	}
	return &Result{AccessKeyID: accessKeyID}, nil
}

func constantTimeEqualHex(a, b string) bool {
	decodedA, err1 := hex.DecodeString(a)
	decodedB, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decodedA, decodedB) == 1
}

// buildCanonicalRequest follows the six-component canonical request format:
// method, canonical URI, canonical query string, canonical headers
// (terminated by a blank line), signed headers, payload hash. Signed
// headers are used in the order the client listed them.
func buildCanonicalRequest(req *http.Request, signedHeaders []string, rawQuery string, payloadHash string) string {
	uri := req.URL.EscapedPath()
	if uri == "" {
		uri = "/"
	}

	var headerLines []string
	for _, h := range signedHeaders {
		var val string
		if strings.EqualFold(h, "host") {
			val = req.Host
		} else {
			val = req.Header.Get(h)
		}
		headerLines = append(headerLines, strings.ToLower(h)+":"+strings.TrimSpace(val))
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		uri,
		canonicalQueryString(rawQuery),
		strings.Join(headerLines, "\n") + "\n",
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")
	return canonicalRequest
}

// canonicalQueryString sorts the raw "k=v" pairs of rawQuery by key, without
// decoding or re-encoding either side: the client's own percent-encoding is
// part of what was signed, so it must be preserved byte-for-byte.
func canonicalQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	nonEmpty := pairs[:0]
	for _, p := range pairs {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	sort.SliceStable(nonEmpty, func(i, j int) bool {
		return queryPairKey(nonEmpty[i]) < queryPairKey(nonEmpty[j])
	})
	return strings.Join(nonEmpty, "&")
}

func queryPairKey(pair string) string {
	if i := strings.IndexByte(pair, '='); i >= 0 {
		return pair[:i]
	}
	return pair
}

// excludeQueryParam removes every raw "k=v" (or bare "k") pair named name
// from rawQuery, preserving the remaining pairs' original encoding and order.
func excludeQueryParam(rawQuery, name string) string {
	if rawQuery == "" {
		return ""
	}
	prefix := name + "="
	pairs := strings.Split(rawQuery, "&")
	filtered := pairs[:0]
	for _, p := range pairs {
		if p == "" || p == name || strings.HasPrefix(p, prefix) {
			continue
		}
		filtered = append(filtered, p)
	}
	return strings.Join(filtered, "&")
}

func buildStringToSign(amzDate, dateStamp, region, service, canonicalRequest string) string {
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)
	hash := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
}

func calculateSignature(secretKey, dateStamp, region, service, stringToSign string) string {
	kSecret := []byte("AWS4" + secretKey)
	kDate := hmacSHA256(kSecret, []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	kSigning := hmacSHA256(kService, []byte("aws4_request"))
	return hex.EncodeToString(hmacSHA256(kSigning, []byte(stringToSign)))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
