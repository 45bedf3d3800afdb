package admin

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openendpoint/simples3/internal/metadata"
)

func (r *Router) handleListCredentials(w http.ResponseWriter, req *http.Request) {
	creds, err := r.Store.ListCredentials(req.Context())
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Never echo secret keys back out once issued.
	redacted := make([]map[string]interface{}, len(creds))
	for i, c := range creds {
		redacted[i] = map[string]interface{}{
			"access_key_id":     c.AccessKeyID,
			"secret_access_key": "********",
			"description":       c.Description,
			"created_at":        c.CreatedAt,
			"active":            c.Active,
		}
	}
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": redacted})
}

func (r *Router) handleCreateCredential(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	keySuffix, err := randomHex(8)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, "failed to generate access key")
		return
	}
	accessKeyID := "AKID" + keySuffix
	secretAccessKey, err := randomHex(20)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, "failed to generate secret key")
		return
	}

	cred := metadata.Credential{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Description:     body.Description,
		CreatedAt:       time.Now().UTC(),
		Active:          true,
	}
	if err := r.Store.CreateCredential(req.Context(), cred); err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The secret key is returned exactly once, at creation time.
	r.writeJSON(w, http.StatusCreated, cred)
}

func (r *Router) handleRevokeCredential(w http.ResponseWriter, req *http.Request, accessKeyID string) {
	if err := r.Store.RevokeCredential(req.Context(), accessKeyID); err != nil {
		r.writeEngineError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]string{"access_key_id": accessKeyID})
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
