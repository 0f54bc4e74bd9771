// Package actorctx carries the acting principal through the request
// context. Authentication happens upstream; the engine only consumes
// the resolved actor and its capability set.
package actorctx

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidActor = errors.New("invalid_actor")
	ErrForbidden    = errors.New("forbidden")
)

type ActorKind string

const (
	KindUser    ActorKind = "USER"
	KindSystem  ActorKind = "SYSTEM"
	KindService ActorKind = "SERVICE"
)

// Capabilities understood by the engine. An actor holding CapAll passes
// every check.
const (
	CapAll            = "*"
	CapConfigRead     = "config:read"
	CapConfigWrite    = "config:write"
	CapConfigActivate = "config:activate"
	CapBillingRead    = "billing:read"
	CapBillingClose   = "billing:close"
	CapUsageWrite     = "usage:write"
	CapChargeDispatch = "charge:dispatch"
)

// Actor is the resolved principal performing an operation.
type Actor struct {
	ID           string
	Name         string
	Kind         ActorKind
	Capabilities []string
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(capability string) bool {
	for _, held := range a.Capabilities {
		if held == CapAll || held == capability {
			return true
		}
	}
	return false
}

// System returns the scheduler/worker actor, which holds every
// capability.
func System() Actor {
	return Actor{
		ID:           "system",
		Name:         "system",
		Kind:         KindSystem,
		Capabilities: []string{CapAll},
	}
}

// ParseCapabilities splits a comma-separated capability list.
func ParseCapabilities(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type actorContextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// Require returns the actor only when it holds the capability.
func Require(ctx context.Context, capability string) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, ErrInvalidActor
	}
	if !actor.Can(capability) {
		return actor, ErrForbidden
	}
	return actor, nil
}

// RequestInfo is transport metadata recorded alongside audit entries.
type RequestInfo struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type requestInfoContextKey struct{}

// WithRequestInfo stores transport metadata in the context.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey{}, info)
}

// RequestInfoFromContext returns transport metadata, zero when unset.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoContextKey{}).(RequestInfo)
	return info
}
