// Package admin implements the operator-facing admin API (C14): bucket and
// credential management, health/readiness probes, and Prometheus exposition.
// Grounded on internal/mgmt/router.go's hand-rolled prefix-matching style and
// internal/health/health.go's health/ready handler shape, trimmed to exactly
// the endpoints spec §6 names and re-pointed at internal/engine/metadata.Store
// instead of the teacher's cluster/iamManager/bucketConfig services.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/metadata"
)

// Router serves the admin API on its own bind address, separate from the
// public S3 listener.
type Router struct {
	Store   metadata.Store
	Engine  *engine.Engine
	Logger  *zap.SugaredLogger
	Token   string // empty disables Bearer auth entirely (dev mode)
	metrics http.Handler
}

// NewRouter constructs an admin Router.
func NewRouter(store metadata.Store, eng *engine.Engine, logger *zap.SugaredLogger, token string) *Router {
	return &Router{Store: store, Engine: eng, Logger: logger, Token: token, metrics: promhttp.Handler()}
}

// ServeHTTP dispatches admin requests. /health, /ready, and /metrics never
// require Bearer auth; every other route does when a Token is configured.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/_admin")

	switch path {
	case "/health":
		r.handleHealth(w, req)
		return
	case "/ready":
		r.handleReady(w, req)
		return
	case "/metrics":
		r.handleMetrics(w, req)
		return
	}

	if !r.authorized(req) {
		r.writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
		return
	}

	r.route(w, req, path)
}

func (r *Router) authorized(req *http.Request) bool {
	if r.Token == "" {
		return true
	}
	header := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimPrefix(header, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(r.Token)) == 1
}

func (r *Router) route(w http.ResponseWriter, req *http.Request, path string) {
	switch {
	case req.Method == http.MethodGet && path == "/buckets":
		r.handleListBuckets(w, req)
	case req.Method == http.MethodPut && strings.HasPrefix(path, "/buckets/"):
		rest := strings.TrimPrefix(path, "/buckets/")
		if name, ok := strings.CutSuffix(rest, "/anonymous"); ok {
			r.handleSetBucketAnonymous(w, req, name)
			return
		}
		r.handleCreateBucket(w, req, rest)
	case req.Method == http.MethodGet && strings.HasPrefix(path, "/buckets/"):
		r.handleGetBucket(w, req, strings.TrimPrefix(path, "/buckets/"))
	case req.Method == http.MethodDelete && strings.HasPrefix(path, "/buckets/"):
		r.handleDeleteBucket(w, req, strings.TrimPrefix(path, "/buckets/"))

	case req.Method == http.MethodGet && path == "/credentials":
		r.handleListCredentials(w, req)
	case req.Method == http.MethodPost && path == "/credentials":
		r.handleCreateCredential(w, req)
	case req.Method == http.MethodDelete && strings.HasPrefix(path, "/credentials/"):
		r.handleRevokeCredential(w, req, strings.TrimPrefix(path, "/credentials/"))

	default:
		r.writeError(w, http.StatusNotFound, "not found")
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady round-trips a throwaway key through the metadata store (a
// write+delete probe rather than a bare liveness check). The data directory
// is not probed.
func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	if err := r.Store.Ping(ctx); err != nil {
		r.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	r.metrics.ServeHTTP(w, req)
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (r *Router) writeError(w http.ResponseWriter, status int, message string) {
	r.Logger.Warnw("admin API error", "status", status, "message", message)
	r.writeJSON(w, status, map[string]string{"error": message})
}
