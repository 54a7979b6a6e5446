package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/leadcore/internal/contentgen"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	"github.com/smallbiznis/leadcore/internal/fallback"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	"github.com/smallbiznis/leadcore/pkg/db"
	"gorm.io/gorm"
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
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Fallback string            `json:"fallback,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
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

	if isValidationError(err) {
		code := err.Error()
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
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient token balance",
		}
	case errors.Is(err, costdomain.ErrCapExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:     "cap_exceeded",
			Message:  "daily AI spend cap exceeded",
			Fallback: fallback.Text(fallback.CategoryDefault),
		}
	case errors.Is(err, costdomain.ErrTenantPaused):
		return http.StatusTooManyRequests, errorPayload{
			Type:     "tenant_paused",
			Message:  "AI features are paused for this tenant",
			Fallback: fallback.Text(fallback.CategoryDefault),
		}
	case errors.Is(err, contentgen.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:     "rate_limited",
			Message:  "too many AI requests",
			Fallback: fallback.Text(fallback.CategoryDefault),
		}
	case errors.Is(err, costdomain.ErrKillSwitchActive):
		return http.StatusServiceUnavailable, errorPayload{
			Type:     "kill_switch_active",
			Message:  "AI features are disabled",
			Fallback: fallback.Text(fallback.CategoryDefault),
		}
	case errors.Is(err, contentgen.ErrExtractionTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "extraction_timeout",
			Message: "AI provider timed out",
		}
	case errors.Is(err, contentgen.ErrExtractionFailed),
		errors.Is(err, contentgen.ErrProviderDisabled):
		return http.StatusBadGateway, errorPayload{
			Type:    "extraction_failed",
			Message: "AI provider failed",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrSignatureExpired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, qualdomain.ErrAlreadyCompleted),
		errors.Is(err, qualdomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, db.ErrStorageUnavailable),
		errors.Is(err, contentgen.ErrGuardUnavailable),
		errors.Is(err, paymentdomain.ErrWebhookDisabled):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, ""
	}
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidTenant),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidOperation),
		errors.Is(err, ledgerdomain.ErrInvalidReference),
		errors.Is(err, ledgerdomain.ErrInvalidCap),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, costdomain.ErrInvalidTenant),
		errors.Is(err, costdomain.ErrInvalidTokens),
		errors.Is(err, costdomain.ErrInvalidDuration),
		errors.Is(err, flagdomain.ErrInvalidActor),
		errors.Is(err, scoringdomain.ErrInvalidTenant),
		errors.Is(err, scoringdomain.ErrInvalidLead),
		errors.Is(err, scoringdomain.ErrInvalidBudget),
		errors.Is(err, scoringdomain.ErrInvalidCount),
		errors.Is(err, qualdomain.ErrInvalidTenant),
		errors.Is(err, qualdomain.ErrInvalidLead),
		errors.Is(err, qualdomain.ErrEmptyResponse),
		errors.Is(err, contentgen.ErrEmptyPrompt):
		return true
	case isPaymentValidationError(err):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidProvider) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent) ||
		errors.Is(err, paymentdomain.ErrInvalidEventType) ||
		errors.Is(err, paymentdomain.ErrInvalidTenant) ||
		errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrInvalidCurrency) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTenantNotFound),
		errors.Is(err, scoringdomain.ErrLeadNotFound),
		errors.Is(err, qualdomain.ErrNotStarted),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "empty_response":
		return "response"
	case "empty_prompt":
		return "prompt"
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
	default:
		return "invalid value"
	}
}
