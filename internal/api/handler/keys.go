package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const rawKeyPrefix = "jtk_"

// KeyStore defines the API key operations the admin handlers depend on.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, agencyID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, agencyID uuid.UUID) error
}

type createKeyRequest struct {
	Name   string   `json:"name"   validate:"required,max=100"`
	Scopes []string `json:"scopes" validate:"required,min=1"`
}

type createKeyResponse struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// GenerateKey returns a new raw API key and its bcrypt hash.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	raw = rawKeyPrefix + hex.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return raw, string(h), nil
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only.
func NewCreateKeyHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencyID, ok := mw.GetAgencyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing agency", nil)
			return
		}

		var req createKeyRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeBodyError(w, err)
			return
		}
		if err := models.ValidateScopes(req.Scopes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		raw, hash, err := GenerateKey()
		if err != nil {
			writeError(w, r, err)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			AgencyID:  agencyID,
			Name:      req.Name,
			KeyHash:   hash,
			KeyPrefix: raw[:mw.KeyPrefixLen],
			Scopes:    models.ParsePermissions(req.Scopes).Scopes(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := ks.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createKeyResponse{Key: raw, APIKey: key})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencyID, ok := mw.GetAgencyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing agency", nil)
			return
		}

		keys, err := ks.ListAPIKeys(r.Context(), agencyID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.Collection(w, keys, len(keys))
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(ks KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencyID, ok := mw.GetAgencyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing agency", nil)
			return
		}
		id, ok := uuidParam(w, r, "keyID")
		if !ok {
			return
		}

		if err := ks.RevokeAPIKey(r.Context(), id, agencyID); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
