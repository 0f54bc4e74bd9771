package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentfolio/rentfolio/internal/actorctx"
)

// ActorRequired resolves the acting principal from request headers and
// stores it on the context. Authentication happens upstream; by the
// time a request reaches the engine the gateway has already verified
// who is calling and forwards the identity as headers.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Actor-Id"))
		if id == "" {
			AbortWithError(c, actorctx.ErrInvalidActor)
			return
		}

		kind := actorctx.ActorKind(strings.ToUpper(strings.TrimSpace(c.GetHeader("X-Actor-Kind"))))
		switch kind {
		case "":
			kind = actorctx.KindUser
		case actorctx.KindUser, actorctx.KindSystem, actorctx.KindService:
		default:
			AbortWithError(c, actorctx.ErrInvalidActor)
			return
		}

		actor := actorctx.Actor{
			ID:           id,
			Name:         strings.TrimSpace(c.GetHeader("X-Actor-Name")),
			Kind:         kind,
			Capabilities: actorctx.ParseCapabilities(c.GetHeader("X-Actor-Capabilities")),
		}

		c.Request = c.Request.WithContext(actorctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
