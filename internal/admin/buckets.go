package admin

import (
	"encoding/json"
	"net/http"

	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/s3err"
)

func (r *Router) handleListBuckets(w http.ResponseWriter, req *http.Request) {
	buckets, err := r.Engine.ListBuckets(req.Context())
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"buckets": buckets})
}

func (r *Router) handleCreateBucket(w http.ResponseWriter, req *http.Request, name string) {
	bucket, err := r.Engine.CreateBucket(req.Context(), name)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	r.writeJSON(w, http.StatusCreated, bucket)
}

func (r *Router) handleGetBucket(w http.ResponseWriter, req *http.Request, name string) {
	bucket, err := r.Engine.GetBucket(req.Context(), name)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, bucket)
}

func (r *Router) handleDeleteBucket(w http.ResponseWriter, req *http.Request, name string) {
	if err := r.Engine.DeleteBucket(req.Context(), name); err != nil {
		r.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetBucketAnonymous toggles a bucket's AnonymousRead/AnonymousListPublic
// flags (spec §3's "ACL lite" model). Bypasses the engine since there is no
// object-level side effect to orchestrate, unlike CreateBucket/DeleteBucket.
func (r *Router) handleSetBucketAnonymous(w http.ResponseWriter, req *http.Request, name string) {
	var body struct {
		AnonymousRead       bool `json:"anonymous_read"`
		AnonymousListPublic bool `json:"anonymous_list_public"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := req.Context()
	if _, err := r.Engine.GetBucket(ctx, name); err != nil {
		r.writeEngineError(w, err)
		return
	}
	if err := r.Store.SetBucketAnonymous(ctx, name, body.AnonymousRead, body.AnonymousListPublic); err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                  name,
		"anonymous_read":        body.AnonymousRead,
		"anonymous_list_public": body.AnonymousListPublic,
	})
}

// writeEngineError maps an *s3err.Error coming out of the engine to its HTTP
// status, falling back to 500 for anything else.
func (r *Router) writeEngineError(w http.ResponseWriter, err error) {
	if s3e, ok := err.(*s3err.Error); ok {
		r.writeError(w, s3e.Status, s3e.Message)
		return
	}
	if err == metadata.ErrNotFound {
		r.writeError(w, http.StatusNotFound, "not found")
		return
	}
	r.writeError(w, http.StatusInternalServerError, err.Error())
}
