package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/rentfolio/rentfolio/internal/actorctx"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	"github.com/rentfolio/rentfolio/internal/splitcalc"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Validate and Activate return every violated invariant at once;
	// the whole list goes back to the caller.
	if issues := asValidationIssues(err); issues != nil {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_failed",
			Message: "configuration failed validation",
			Errors:  issueList(issues),
		}
	}

	var inconsistency *splitcalc.InconsistencyError
	if errors.As(err, &inconsistency) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type: "split_inconsistent",
			Message: fmt.Sprintf("split distributed %d of gross %d",
				inconsistency.TotalDistributed, inconsistency.GrossAmount),
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, actorctx.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, actorctx.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictErrorMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func asValidationIssues(err error) *splitconfigdomain.ValidationIssues {
	var issues *splitconfigdomain.ValidationIssues
	if errors.As(err, &issues) && issues != nil {
		return issues
	}
	return nil
}

func issueList(issues *splitconfigdomain.ValidationIssues) []ValidationError {
	out := make([]ValidationError, 0, len(issues.Issues))
	for _, issue := range issues.Issues {
		out = append(out, ValidationError{
			Field:   issue.Field,
			Code:    issue.Code,
			Message: issue.Message,
		})
	}
	return out
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, scopectx.ErrInvalidScope):
		return true
	case isConfigurationValidationError(err),
		isUsageValidationError(err),
		isCycleValidationError(err),
		isChargeValidationError(err):
		return true
	default:
		return false
	}
}

func isConfigurationValidationError(err error) bool {
	switch {
	case errors.Is(err, splitconfigdomain.ErrInvalidID),
		errors.Is(err, splitconfigdomain.ErrInvalidScopeKind),
		errors.Is(err, splitconfigdomain.ErrInvalidScopeKey),
		errors.Is(err, splitconfigdomain.ErrInvalidName),
		errors.Is(err, splitconfigdomain.ErrInvalidReceiverType),
		errors.Is(err, splitconfigdomain.ErrInvalidRuleType),
		errors.Is(err, splitconfigdomain.ErrInvalidRuleValue),
		errors.Is(err, splitconfigdomain.ErrInvalidChargeType),
		errors.Is(err, splitconfigdomain.ErrInvalidAmountBounds),
		errors.Is(err, splitconfigdomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidFeature),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidIdempotencyKey),
		errors.Is(err, usagedomain.ErrInvalidBillingMonth):
		return true
	default:
		return false
	}
}

func isCycleValidationError(err error) bool {
	switch {
	case errors.Is(err, billingcycledomain.ErrInvalidID),
		errors.Is(err, billingcycledomain.ErrInvalidMonth),
		errors.Is(err, billingcycledomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

func isChargeValidationError(err error) bool {
	switch {
	case errors.Is(err, chargedomain.ErrInvalidID),
		errors.Is(err, chargedomain.ErrInvalidAmount),
		errors.Is(err, chargedomain.ErrInvalidChargeType),
		errors.Is(err, chargedomain.ErrInvalidStatus),
		errors.Is(err, chargedomain.ErrInvalidBillingMonth):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, splitconfigdomain.ErrNotValidated),
		errors.Is(err, splitconfigdomain.ErrNotEditable),
		errors.Is(err, splitconfigdomain.ErrArchived),
		errors.Is(err, splitconfigdomain.ErrInvalidTransition),
		errors.Is(err, splitconfigdomain.ErrReceiverLocked),
		errors.Is(err, splitconfigdomain.ErrReceiverMismatch),
		errors.Is(err, splitconfigdomain.ErrVersionConflict),
		errors.Is(err, chargedomain.ErrInvalidTransition),
		errors.Is(err, chargedomain.ErrAlreadyDispatched),
		errors.Is(err, billingcycledomain.ErrNotOpen):
		return true
	default:
		return false
	}
}

// conflictErrorMessage surfaces which state rule was violated; a bare
// "conflict" hides whether a 409 means locked receiver or double close.
func conflictErrorMessage(err error) string {
	if errors.Is(err, ErrConflict) {
		return "conflict"
	}
	return err.Error()
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, splitconfigdomain.ErrNotFound),
		errors.Is(err, splitconfigdomain.ErrReceiverNotFound),
		errors.Is(err, splitconfigdomain.ErrRuleNotFound),
		errors.Is(err, chargedomain.ErrNotFound),
		errors.Is(err, billingcycledomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_scope":
		return "exactly one of agency_id or owner_id must be set"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger the same taxonomy the
// response envelope uses.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
