package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

// Envelope is the standard API response wrapper.
type Envelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError represents an error in the API response.
type APIError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes a successful response with the standard envelope.
func JSON(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// NewHTTPErrorHandler returns the global error handler for echo.
func NewHTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, apiErr := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.Error(err),
				zap.Int("status", status),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
		}

		var jsonErr error
		if c.Request().Method == http.MethodHead {
			jsonErr = c.NoContent(status)
		} else {
			jsonErr = c.JSON(status, Envelope{Message: apiErr.Message, Error: &apiErr})
		}
		if jsonErr != nil {
			log.Error("failed to send error response", zap.Error(jsonErr))
		}
	}
}

func mapError(err error) (int, APIError) {
	// echo's own HTTP errors (404, 405, 413, bind failures)
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, _ := echoErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(echoErr.Code)
		}
		if echoErr.Code == http.StatusNotFound {
			msg = "Route not found"
		}
		return echoErr.Code, APIError{
			Code:    http.StatusText(echoErr.Code),
			Message: msg,
		}
	}

	var validationErrs domain.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make([]FieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			details = append(details, FieldError{Field: fe.Field, Message: fe.Message})
		}
		return http.StatusBadRequest, APIError{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: details,
		}
	}
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, APIError{
			Code:    "validation_error",
			Message: "Validation failed",
			Details: []FieldError{{Field: validationErr.Field, Message: validationErr.Message}},
		}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, APIError{
			Code:    "invalid_input",
			Message: "The request body is invalid",
		}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, APIError{
			Code:    "conflict",
			Message: "User already exists",
		}
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, APIError{
			Code:    "invalid_token",
			Message: "Invalid or expired token",
		}
	case errors.Is(err, domain.ErrInvalidAssertion):
		return http.StatusUnauthorized, APIError{
			Code:    "invalid_id_token",
			Message: "Invalid identity token",
		}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, APIError{
			Code:    "unauthorized",
			Message: "Invalid credentials",
		}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "The requested resource was not found",
		}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, APIError{
			Code:    "rate_limited",
			Message: "Too many requests, please try again later.",
		}
	case errors.Is(err, domain.ErrUpstreamIdentity), errors.Is(err, domain.ErrIdentityNotFound):
		return http.StatusBadGateway, APIError{
			Code:    "upstream_identity_error",
			Message: "The identity provider is unavailable",
		}
	default:
		return http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "An unexpected error occurred",
		}
	}
}
