package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rentfolio/rentfolio/internal/observability/logger"
	obsmetrics "github.com/rentfolio/rentfolio/internal/observability/metrics"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	"github.com/rentfolio/rentfolio/internal/scopectx"
)

const rateLimitReasonScopeRate = "scope-rate"

// allowTrack runs the per-scope token bucket for usage ingestion. A
// Redis outage answers 503 rather than letting unmetered traffic
// through; a deny answers 429 with a Retry-After hint.
func (s *Server) allowTrack(c *gin.Context, scope scopectx.Scope) bool {
	if s.trackLimiter == nil || !s.trackLimiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)
	scopeKey := scope.Key()

	res, err := s.trackLimiter.AllowScope(ctx, scopeKey)
	if err != nil {
		logger.FromContext(ctx).Warn("usage track rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return false
	}
	if !res.Allowed {
		denyTrackRateLimit(c, endpoint, scopeKey, res, s.obsMetrics)
		return false
	}

	recordRateLimitAllowed(ctx, endpoint, scopeKey, s.obsMetrics)
	return true
}

func denyTrackRateLimit(c *gin.Context, endpoint, scopeKey string, res *ratelimit.RateLimitResult, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("usage track rate limit exceeded",
		zap.String("scope", scopeKey),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, scopeKey, rateLimitReasonScopeRate, metrics)

	c.Header("Retry-After", retryAfterSeconds(res))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonScopeRate)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(res *ratelimit.RateLimitResult) string {
	if res == nil {
		return "1"
	}
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, scopeKey string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, scopeKey, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, scopeKey, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, scopeKey, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
