package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

type contextKey string

const (
	agencyIDKey    contextKey = "agency_id"
	keyPrefixKey   contextKey = "key_prefix"
	permissionsKey contextKey = "permissions"
)

func SetAgencyID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, agencyIDKey, id)
}

// GetAgencyID returns the agency of the authenticated API key.
func GetAgencyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(agencyIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func SetPermissions(ctx context.Context, p models.Permissions) context.Context {
	return context.WithValue(ctx, permissionsKey, p)
}

// GetPermissions returns the capability set of the authenticated API key,
// empty when the request is unauthenticated.
func GetPermissions(r *http.Request) models.Permissions {
	p, _ := r.Context().Value(permissionsKey).(models.Permissions)
	return p
}
