package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/auth"
	"github.com/openendpoint/simples3/internal/metadata"
)

// fakeStore is a minimal in-memory metadata.Store stub for exercising the
// auth and CORS middleware without a real backing store.
type fakeStore struct {
	buckets     map[string]metadata.BucketMetadata
	objects     map[string]metadata.ObjectMetadata
	creds       map[string]metadata.Credential
	policies    map[string][]byte
	corsRules   map[string][]metadata.CORSRule
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets:   map[string]metadata.BucketMetadata{},
		objects:   map[string]metadata.ObjectMetadata{},
		creds:     map[string]metadata.Credential{},
		policies:  map[string][]byte{},
		corsRules: map[string][]metadata.CORSRule{},
	}
}

func (f *fakeStore) CreateBucket(ctx context.Context, bucket string) (*metadata.BucketMetadata, error) {
	b := metadata.BucketMetadata{Name: bucket, CreatedAt: time.Now()}
	f.buckets[bucket] = b
	return &b, nil
}
func (f *fakeStore) DeleteBucket(ctx context.Context, bucket string) error {
	delete(f.buckets, bucket)
	return nil
}
func (f *fakeStore) GetBucket(ctx context.Context, bucket string) (*metadata.BucketMetadata, error) {
	b, ok := f.buckets[bucket]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &b, nil
}
func (f *fakeStore) ListBuckets(ctx context.Context) ([]metadata.BucketMetadata, error) {
	var out []metadata.BucketMetadata
	for _, b := range f.buckets {
		out = append(out, b)
	}
	return out, nil
}
func (f *fakeStore) SetBucketAnonymous(ctx context.Context, bucket string, anonymousRead, anonymousListPublic bool) error {
	b := f.buckets[bucket]
	b.AnonymousRead = anonymousRead
	b.AnonymousListPublic = anonymousListPublic
	f.buckets[bucket] = b
	return nil
}
func (f *fakeStore) PutObject(ctx context.Context, meta metadata.ObjectMetadata) error {
	f.objects[meta.Bucket+"/"+meta.Key] = meta
	return nil
}
func (f *fakeStore) GetObject(ctx context.Context, bucket, key string) (*metadata.ObjectMetadata, error) {
	o, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &o, nil
}
func (f *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	delete(f.objects, bucket+"/"+key)
	return nil
}
func (f *fakeStore) ListObjects(ctx context.Context, bucket string, opts metadata.ListOptions) (*metadata.ListResult, error) {
	return &metadata.ListResult{}, nil
}
func (f *fakeStore) CountObjects(ctx context.Context, bucket string) (int, error) { return 0, nil }
func (f *fakeStore) PutTagging(ctx context.Context, bucket, key string, tags metadata.Tagging) error {
	return nil
}
func (f *fakeStore) GetTagging(ctx context.Context, bucket, key string) (metadata.Tagging, error) {
	return nil, nil
}
func (f *fakeStore) DeleteTagging(ctx context.Context, bucket, key string) error { return nil }
func (f *fakeStore) CreateCredential(ctx context.Context, cred metadata.Credential) error {
	f.creds[cred.AccessKeyID] = cred
	return nil
}
func (f *fakeStore) GetCredential(ctx context.Context, accessKeyID string) (*metadata.Credential, error) {
	c, ok := f.creds[accessKeyID]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return &c, nil
}
func (f *fakeStore) ListCredentials(ctx context.Context) ([]metadata.Credential, error) {
	return nil, nil
}
func (f *fakeStore) RevokeCredential(ctx context.Context, accessKeyID string) error { return nil }
func (f *fakeStore) CreateMultipartUpload(ctx context.Context, u metadata.MultipartUploadMetadata) error {
	return nil
}
func (f *fakeStore) GetMultipartUpload(ctx context.Context, uploadID string) (*metadata.MultipartUploadMetadata, error) {
	return nil, metadata.ErrNotFound
}
func (f *fakeStore) PutMultipartUpload(ctx context.Context, u metadata.MultipartUploadMetadata) error {
	return nil
}
func (f *fakeStore) AbortMultipartUpload(ctx context.Context, uploadID string) error { return nil }
func (f *fakeStore) ListMultipartUploads(ctx context.Context) ([]metadata.MultipartUploadMetadata, error) {
	return nil, nil
}
func (f *fakeStore) GetLifecycleRules(ctx context.Context, bucket string) ([]metadata.LifecycleRule, error) {
	return nil, nil
}
func (f *fakeStore) PutLifecycleRules(ctx context.Context, bucket string, rules []metadata.LifecycleRule) error {
	return nil
}
func (f *fakeStore) DeleteLifecycleRules(ctx context.Context, bucket string) error { return nil }
func (f *fakeStore) ListAllLifecycleRules(ctx context.Context) (map[string][]metadata.LifecycleRule, error) {
	return nil, nil
}
func (f *fakeStore) GetBucketPolicy(ctx context.Context, bucket string) ([]byte, error) {
	doc, ok := f.policies[bucket]
	if !ok {
		return nil, nil
	}
	return doc, nil
}
func (f *fakeStore) PutBucketPolicy(ctx context.Context, bucket string, document []byte) error {
	f.policies[bucket] = document
	return nil
}
func (f *fakeStore) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	delete(f.policies, bucket)
	return nil
}
func (f *fakeStore) GetBucketCORS(ctx context.Context, bucket string) ([]metadata.CORSRule, error) {
	return f.corsRules[bucket], nil
}
func (f *fakeStore) PutBucketCORS(ctx context.Context, bucket string, rules []metadata.CORSRule) error {
	f.corsRules[bucket] = rules
	return nil
}
func (f *fakeStore) DeleteBucketCORS(ctx context.Context, bucket string) error {
	delete(f.corsRules, bucket)
	return nil
}
func (f *fakeStore) ListAllBucketCORS(ctx context.Context) (map[string][]metadata.CORSRule, error) {
	return f.corsRules, nil
}
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestIDPreservesExisting(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "my-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "my-id" {
		t.Errorf("X-Request-ID = %s, want my-id", got)
	}
}

func TestRecoverer(t *testing.T) {
	handler := Recoverer(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAccessLog(t *testing.T) {
	handler := AccessLog(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusTeapot)
	}
}

func TestMaxBodySizeRejectsLargeDeclaredLength(t *testing.T) {
	handler := MaxBodySize(10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPut, "/test", nil)
	req.ContentLength = 100
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Error("expected request exceeding max body size to be rejected")
	}
}

func TestOriginPatternMatches(t *testing.T) {
	cases := []struct {
		pattern, origin string
		want            bool
	}{
		{"*", "https://example.com", true},
		{"https://example.com", "https://example.com", true},
		{"https://example.com", "https://evil.com", false},
		{"https://*.example.com", "https://foo.example.com", true},
		{"https://*.example.com", "https://example.com", false},
	}
	for _, c := range cases {
		if got := originPatternMatches(c.pattern, c.origin); got != c.want {
			t.Errorf("originPatternMatches(%q, %q) = %v, want %v", c.pattern, c.origin, got, c.want)
		}
	}
}

func TestCORSPreflightBucketRule(t *testing.T) {
	source := CORSSource(func(bucket string) ([]metadata.CORSRule, bool) {
		if bucket != "mybucket" {
			return nil, false
		}
		return []metadata.CORSRule{{
			AllowedOrigins: []string{"https://example.com"},
			AllowedMethods: []string{"GET", "PUT"},
		}}, true
	})
	handler := CORS(source, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should be short-circuited before reaching next handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/mybucket/key", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %s, want https://example.com", got)
	}
}

func TestCORSGlobalFallbackAllowsAllWhenUnconfigured(t *testing.T) {
	handler := CORS(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/mybucket/key", nil)
	req.Header.Set("Origin", "https://anything.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %s, want *", got)
	}
}

func TestAuthMiddlewareAnonymousDeniedByDefault(t *testing.T) {
	store := newFakeStore()
	store.CreateBucket(context.Background(), "private-bucket")

	a := &Auth{
		Verifier:        auth.New(func(string) (string, bool) { return "", false }),
		Store:           store,
		AnonymousGlobal: false,
		Logger:          testLogger(),
	}
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("anonymous request to a non-public bucket should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/private-bucket/key", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAuthMiddlewareAnonymousAllowedWhenGlobal(t *testing.T) {
	store := newFakeStore()
	a := &Auth{
		Verifier:        auth.New(func(string) (string, bool) { return "", false }),
		Store:           store,
		AnonymousGlobal: true,
		Logger:          testLogger(),
	}
	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/any-bucket/key", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected handler to be reached when AnonymousGlobal is set")
	}
}

func TestAuthMiddlewareAnonymousReadOnPublicBucket(t *testing.T) {
	store := newFakeStore()
	store.CreateBucket(context.Background(), "public-bucket")
	store.SetBucketAnonymous(context.Background(), "public-bucket", true, false)

	a := &Auth{
		Verifier:        auth.New(func(string) (string, bool) { return "", false }),
		Store:           store,
		AnonymousGlobal: false,
		Logger:          testLogger(),
	}
	called := false
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/public-bucket/key", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected anonymous read on a bucket with AnonymousRead set to reach the handler")
	}
}

func TestAuthMiddlewareRejectsUnknownAccessKey(t *testing.T) {
	store := newFakeStore()
	a := &Auth{
		Verifier:        auth.New(func(string) (string, bool) { return "secret", true }),
		Store:           store,
		AnonymousGlobal: false,
		Logger:          testLogger(),
	}
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request for a revoked/unknown credential should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/bucket/key", nil)
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential=AKID/20260801/us-east-1/s3/aws4_request,SignedHeaders=host,Signature=deadbeef")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusForbidden)
	}
}
