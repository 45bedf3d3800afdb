package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/metacache"
	"github.com/openendpoint/simples3/internal/metadata/boltstore"
	"github.com/openendpoint/simples3/internal/storage/flatfile"
)

func newTestRouter(t *testing.T, token string) *Router {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop().Sugar()

	store, err := boltstore.Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := metacache.Open(filepath.Join(dir, "listing-cache"))
	if err != nil {
		t.Fatalf("metacache.Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	backend, err := flatfile.New(filepath.Join(dir, "data"), logger)
	if err != nil {
		t.Fatalf("flatfile.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	eng := engine.New(store, backend, cache, "", logger)
	return NewRouter(store, eng, logger, token)
}

func TestHealthAndReadyBypassAuth(t *testing.T) {
	r := newTestRouter(t, "secret-token")

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestProtectedRouteRequiresBearerToken(t *testing.T) {
	r := newTestRouter(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/buckets", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/buckets", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/buckets", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("correct token: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	r := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/buckets", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestBucketLifecycleViaAdminAPI(t *testing.T) {
	r := newTestRouter(t, "")

	createReq := httptest.NewRequest(http.MethodPut, "/buckets/my-bucket", nil)
	createW := httptest.NewRecorder()
	r.ServeHTTP(createW, createReq)
	if createW.Code != http.StatusOK && createW.Code != http.StatusCreated {
		t.Fatalf("create bucket: status = %d, body = %s", createW.Code, createW.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/buckets/my-bucket", nil)
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("get bucket: status = %d", getW.Code)
	}

	anonReq := httptest.NewRequest(http.MethodPut, "/buckets/my-bucket/anonymous", strings.NewReader(`{"anonymous_read":true}`))
	anonW := httptest.NewRecorder()
	r.ServeHTTP(anonW, anonReq)
	if anonW.Code != http.StatusOK {
		t.Fatalf("set anonymous: status = %d, body = %s", anonW.Code, anonW.Body.String())
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/buckets/my-bucket", nil)
	deleteW := httptest.NewRecorder()
	r.ServeHTTP(deleteW, deleteReq)
	if deleteW.Code != http.StatusNoContent {
		t.Fatalf("delete bucket: status = %d", deleteW.Code)
	}
}

func TestCredentialLifecycleViaAdminAPI(t *testing.T) {
	r := newTestRouter(t, "")

	createReq := httptest.NewRequest(http.MethodPost, "/credentials", strings.NewReader(`{"description":"test cred"}`))
	createW := httptest.NewRecorder()
	r.ServeHTTP(createW, createReq)
	if createW.Code != http.StatusCreated {
		t.Fatalf("create credential: status = %d, body = %s", createW.Code, createW.Body.String())
	}

	var created struct {
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
	}
	if err := json.NewDecoder(createW.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.AccessKeyID == "" || created.SecretAccessKey == "" {
		t.Fatal("expected non-empty access key and secret on creation")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/credentials", nil)
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	if listW.Code != http.StatusOK {
		t.Fatalf("list credentials: status = %d", listW.Code)
	}
	if strings.Contains(listW.Body.String(), created.SecretAccessKey) {
		t.Error("list credentials response leaked the secret access key")
	}

	revokeReq := httptest.NewRequest(http.MethodDelete, "/credentials/"+created.AccessKeyID, nil)
	revokeW := httptest.NewRecorder()
	r.ServeHTTP(revokeW, revokeReq)
	if revokeW.Code != http.StatusOK {
		t.Fatalf("revoke credential: status = %d", revokeW.Code)
	}
}
