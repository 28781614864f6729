// Package errors provides the structured error system shared by every storage provider,
// with error codes, categories, HTTP-equivalent status codes, and context.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for provider operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Connection Errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Lookup Errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeMetadata      ErrorCode = "METADATA_FAILED"
	ErrCodeAmbiguousPath ErrorCode = "AMBIGUOUS_PATH"
	ErrCodeInvalidPath   ErrorCode = "INVALID_PATH"

	// Transfer Errors
	ErrCodeDownload             ErrorCode = "DOWNLOAD_FAILED"
	ErrCodeUpload               ErrorCode = "UPLOAD_FAILED"
	ErrCodeUploadSessionExpired ErrorCode = "UPLOAD_SESSION_EXPIRED"
	ErrCodeDataIntegrity        ErrorCode = "DATA_INTEGRITY"

	// Mutation Errors
	ErrCodeDelete       ErrorCode = "DELETE_FAILED"
	ErrCodeCreateFolder ErrorCode = "CREATE_FOLDER_FAILED"
	ErrCodeIntraCopy    ErrorCode = "INTRA_COPY_FAILED"
	ErrCodeIntraMove    ErrorCode = "INTRA_MOVE_FAILED"
	ErrCodeRevisions    ErrorCode = "REVISIONS_FAILED"

	// Conflict Errors
	ErrCodeFolderNamingConflict ErrorCode = "CONFLICT_FOLDER_NAMING"
	ErrCodeNamingConflict       ErrorCode = "CONFLICT_NAMING"
	ErrCodeOverwriteSelf        ErrorCode = "CONFLICT_OVERWRITE_SELF"

	// Caller Errors
	ErrCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeCallbackFailed    ErrorCode = "OPERATION_CALLBACK_FAILED"

	// Authentication/Authorization Errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeAuthorizationFailed  ErrorCode = "AUTHORIZATION_FAILED"
	ErrCodeTokenExpired         ErrorCode = "TOKEN_EXPIRED"
	ErrCodeCredentialsMissing   ErrorCode = "CREDENTIALS_MISSING"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryLookup        ErrorCategory = "lookup"
	CategoryTransfer      ErrorCategory = "transfer"
	CategoryMutation      ErrorCategory = "mutation"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryCaller        ErrorCategory = "caller"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// ProviderError represents a structured error with context and metadata.
type ProviderError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Offending path or name, for conflicts and lookups
	Path string `json:"path,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ProviderError) Is(target error) bool {
	if providerErr, ok := target.(*ProviderError); ok {
		return e.Code == providerErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ProviderError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Status=%d", e.HTTPStatus))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%q", e.Path))
	}

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ProviderError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *ProviderError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// Serialize returns the user-visible shape of the error: kind, status, message and,
// when present, the offending path.
func (e *ProviderError) Serialize() map[string]interface{} {
	out := map[string]interface{}{
		"code":    string(e.Code),
		"status":  e.HTTPStatus,
		"message": e.Message,
	}
	if e.Path != "" {
		out["path"] = e.Path
	}
	return out
}

// NewError creates a new provider error with default values.
func NewError(code ErrorCode, message string) *ProviderError {
	return &ProviderError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	case code == ErrCodeNotFound || code == ErrCodeMetadata || code == ErrCodeAmbiguousPath ||
		code == ErrCodeInvalidPath:
		return CategoryLookup
	case strings.HasPrefix(codeStr, "DOWNLOAD_") || strings.HasPrefix(codeStr, "UPLOAD_") ||
		strings.HasPrefix(codeStr, "DATA_"):
		return CategoryTransfer
	case strings.HasPrefix(codeStr, "DELETE_") || strings.HasPrefix(codeStr, "CREATE_") ||
		strings.HasPrefix(codeStr, "INTRA_") || strings.HasPrefix(codeStr, "REVISIONS_"):
		return CategoryMutation
	case strings.HasPrefix(codeStr, "CONFLICT_"):
		return CategoryConflict
	case strings.HasPrefix(codeStr, "INVALID_") || strings.HasPrefix(codeStr, "UNSUPPORTED_"):
		return CategoryCaller
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "AUTHENTICATION_") || strings.HasPrefix(codeStr, "AUTHORIZATION_") ||
		strings.HasPrefix(codeStr, "TOKEN_") || strings.HasPrefix(codeStr, "CREDENTIALS_"):
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout: true,
		ErrCodeConnectionFailed:  true,
		ErrCodeNetworkError:      true,
		ErrCodeOperationTimeout:  true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:        400, // Bad Request
		ErrCodeConfigValidation:     400,
		ErrCodeInvalidPath:          400,
		ErrCodeInvalidParameters:    400,
		ErrCodeOverwriteSelf:        400,
		ErrCodeAuthenticationFailed: 401, // Unauthorized
		ErrCodeCredentialsMissing:   401,
		ErrCodeTokenExpired:         401,
		ErrCodeAuthorizationFailed:  403, // Forbidden
		ErrCodeNotFound:             404, // Not Found
		ErrCodeUploadSessionExpired: 404,
		ErrCodeUnsupportedOperation: 405, // Method Not Allowed
		ErrCodeFolderNamingConflict: 409, // Conflict
		ErrCodeNamingConflict:       409,
		ErrCodeAmbiguousPath:        409,
		ErrCodeOperationCanceled:    499, // Client Closed Request
		ErrCodeInternalError:        500, // Internal Server Error
		ErrCodeConnectionFailed:     502, // Bad Gateway
		ErrCodeNetworkError:         502,
		ErrCodeOperationTimeout:     504, // Gateway Timeout
		ErrCodeConnectionTimeout:    504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500 // Default to Internal Server Error
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *ProviderError) WithContext(key, value string) *ProviderError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *ProviderError) WithDetail(key string, value interface{}) *ProviderError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithPath records the offending path or name
func (e *ProviderError) WithPath(path string) *ProviderError {
	e.Path = path
	return e
}

// WithStatus overrides the HTTP-equivalent status code
func (e *ProviderError) WithStatus(status int) *ProviderError {
	if status > 0 {
		e.HTTPStatus = status
	}
	return e
}

// WithRetryable overrides the retry hint
func (e *ProviderError) WithRetryable(retryable bool) *ProviderError {
	e.Retryable = retryable
	return e
}

// WithComponent sets the component for an error
func (e *ProviderError) WithComponent(component string) *ProviderError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ProviderError) WithOperation(operation string) *ProviderError {
	e.Operation = operation
	return e
}

// WithRequestID sets the request id for an error
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause
func (e *ProviderError) WithCause(cause error) *ProviderError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *ProviderError) WithStack() *ProviderError {
	e.Stack = CaptureStack(2)
	return e
}

// As returns the first *ProviderError in err's chain.
func As(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// CodeOf returns the code of a provider error, or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if providerErr, ok := As(err); ok {
		return providerErr.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCodeOperationCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeOperationTimeout
	}
	return ErrCodeUnknownError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// StatusCode returns the HTTP-equivalent status of err. Untyped errors are 500.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	if providerErr, ok := As(err); ok {
		return providerErr.HTTPStatus
	}
	return GetDefaultHTTPStatus(CodeOf(err))
}

// Wrap converts err into a provider error with the given code, keeping an
// existing provider error untouched.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	switch CodeOf(err) {
	case ErrCodeOperationCanceled:
		return NewError(ErrCodeOperationCanceled, message).WithCause(err)
	case ErrCodeOperationTimeout:
		return NewError(ErrCodeOperationTimeout, message).WithCause(err)
	}
	return NewError(code, fmt.Sprintf("%s: %v", message, err)).WithCause(err)
}
