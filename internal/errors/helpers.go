package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Common error creators for the relay's failure taxonomy.

// NewAuthenticationError creates a webhook authentication error. The reason
// stays internal; callers surface only the generic user message.
func NewAuthenticationError(reason string) *AppError {
	return New(ErrCodeAuthentication, "webhook authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Unauthorized")
}

// NewMalformedPayloadError wraps a platform payload parsing failure.
func NewMalformedPayloadError(platform string, err error) *AppError {
	return Wrap(err, ErrCodeMalformedPayload, fmt.Sprintf("unparseable %s payload", platform)).
		WithContext("platform", platform).
		WithUserMessage("Malformed payload")
}

// NewConflictError creates a uniqueness violation error for mapping creation.
func NewConflictError(platform, externalGroupID string) *AppError {
	return New(ErrCodeConflict, "an active mapping already exists for this conversation").
		WithContext("platform", platform).
		WithContext("external_group_id", externalGroupID).
		WithUserMessage("Channel is already connected")
}

// NewReferenceInvalidError creates an error for a reference that failed
// validation before an outbound attempt.
func NewReferenceInvalidError(status, reason string) *AppError {
	return New(ErrCodeReferenceInvalid, fmt.Sprintf("conversation reference %s: %s", status, reason)).
		WithContext("reference_status", status).
		WithUserMessage("Channel link is not usable")
}

// NewDeliveryError wraps a platform API delivery failure. Server-side and
// throttling failures are retryable; everything else is left to the failure
// classifier.
func NewDeliveryError(platform string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeDelivery, fmt.Sprintf("%s delivery failed", platform)).
		WithContext("platform", platform).
		WithContext("status_code", statusCode).
		WithUserMessage("Message could not be delivered")
	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		appErr.Retryable = true
	}
	return appErr
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}

// StatusCode extracts the HTTP status recorded on a delivery error, 0 if absent.
func StatusCode(err error) int {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return 0
	}
	if v, ok := appErr.Context["status_code"]; ok {
		if code, ok := v.(int); ok {
			return code
		}
	}
	return 0
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeMalformedPayload:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeReferenceInvalid:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeDelivery:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized error envelope returned by the API.
// Internal detail (Cause, Context) never leaves the process.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}
	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)
	return response
}
