package shared

import (
	"context"

	"github.com/google/uuid"
)

type sessionContextKey struct{}

type identityContextKey struct{}

// Identity is the authenticated principal attached to a request: the user id
// and the tenant the session is bound to. TenantID may be uuid.Nil for
// system-level callers without a tenant association.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// HasTenant reports whether the identity carries a tenant association.
func (id Identity) HasTenant() bool {
	return id.TenantID != uuid.Nil
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithIdentity stores the resolved identity in context. Authorization
// gates set it so downstream handlers never reparse the session.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// CurrentIdentity derives the identity from the request session: an identity
// exists once a user id is set, and the tenant association is optional.
func CurrentIdentity(ctx context.Context) (Identity, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return Identity{}, false
	}
	rawUser := sess.User()
	if rawUser == "" {
		return Identity{}, false
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return Identity{}, false
	}
	id := Identity{UserID: userID}
	if rawTenant := sess.Tenant(); rawTenant != "" {
		if tenantID, err := uuid.Parse(rawTenant); err == nil {
			id.TenantID = tenantID
		}
	}
	return id, true
}
