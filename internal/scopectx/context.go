// Package scopectx carries the billing scope (the agency or independent
// owner a request operates on) through the request context.
package scopectx

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ErrInvalidScope rejects requests that do not name exactly one of
// agency or owner.
var ErrInvalidScope = errors.New("invalid_scope")

// Scope identifies the tenant a billing cycle or configuration belongs
// to: exactly one of AgencyID or OwnerID is set.
type Scope struct {
	AgencyID *snowflake.ID
	OwnerID  *snowflake.ID
}

// IsZero reports whether neither side of the scope is set.
func (s Scope) IsZero() bool {
	return s.AgencyID == nil && s.OwnerID == nil
}

// Key returns the canonical scope key used in logs and lock names.
func (s Scope) Key() string {
	switch {
	case s.AgencyID != nil:
		return "agency:" + s.AgencyID.String()
	case s.OwnerID != nil:
		return "owner:" + s.OwnerID.String()
	default:
		return ""
	}
}

type scopeContextKey struct{}

// WithScope stores the billing scope in the context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext returns the billing scope from context, if set.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	if !ok || scope.IsZero() {
		return Scope{}, false
	}
	return scope, true
}

// ParseID parses a snowflake ID from its decimal string form.
func ParseID(raw string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// Parse builds a Scope from optional id strings. Exactly one of agency
// or owner must be present.
func Parse(agencyID, ownerID *string) (Scope, error) {
	var scope Scope
	if agencyID != nil && strings.TrimSpace(*agencyID) != "" {
		id, ok := ParseID(*agencyID)
		if !ok {
			return Scope{}, ErrInvalidScope
		}
		scope.AgencyID = &id
	}
	if ownerID != nil && strings.TrimSpace(*ownerID) != "" {
		id, ok := ParseID(*ownerID)
		if !ok {
			return Scope{}, ErrInvalidScope
		}
		scope.OwnerID = &id
	}
	if (scope.AgencyID != nil) == (scope.OwnerID != nil) {
		return Scope{}, ErrInvalidScope
	}
	return scope, nil
}
