package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/filebase-dev/filebase/pkg/binder"
	"github.com/filebase-dev/filebase/pkg/encode"
	"github.com/filebase-dev/filebase/pkg/routepath"
)

var (
	// ErrDraining is returned for requests that arrive after Drain started.
	ErrDraining = errors.New("dispatch: server is shutting down")

	// ErrMethodNotAllowed is returned for HTTP methods that cannot invoke
	// remote functions.
	ErrMethodNotAllowed = errors.New("dispatch: method not allowed")

	// ErrBadRequest wraps request bodies that cannot be parsed.
	ErrBadRequest = errors.New("dispatch: malformed request")

	// ErrBodyTooLarge is returned when a request body exceeds the limit.
	ErrBodyTooLarge = errors.New("dispatch: request body too large")

	// ErrUnsupportedMediaType is returned for body content types that
	// carry no parameters.
	ErrUnsupportedMediaType = errors.New("dispatch: unsupported media type")

	// ErrUnauthenticated refuses a call with 401 when an Authorizer
	// returns it.
	ErrUnauthenticated = errors.New("dispatch: authentication required")
)

// Error codes carried in error response bodies.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidPath          = "INVALID_PATH"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeMissingParameter     = "MISSING_PARAMETER"
	CodeTypeCoercion         = "TYPE_COERCION"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeHandler              = "HANDLER_ERROR"
	CodeSerialization        = "SERIALIZATION_ERROR"
	CodeRender               = "RENDER_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeBodyTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeUnavailable          = "UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// RouteNotFoundError reports a path with no remote function and no file.
type RouteNotFoundError struct {
	Path string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("dispatch: no route for %s", e.Path)
}

// ForbiddenError reports a call refused by the Authorizer.
type ForbiddenError struct {
	Path string
	Err  error
}

func (e *ForbiddenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch: access to %s denied", e.Path)
	}
	return fmt.Sprintf("dispatch: access to %s denied: %v", e.Path, e.Err)
}

func (e *ForbiddenError) Unwrap() error { return e.Err }

// HandlerExecutionError wraps an error returned by, or a panic raised in,
// a remote function.
type HandlerExecutionError struct {
	Path string
	Err  error

	// Panic is the recovered value when the function panicked.
	Panic any
	Stack []byte
}

func (e *HandlerExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: %s panicked: %v", e.Path, e.Panic)
	}
	return fmt.Sprintf("dispatch: %s failed: %v", e.Path, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// RenderError wraps a renderer failure other than a missing file.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("dispatch: render %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors that choose their own status. It
// lets middleware reject a call with a specific status.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf maps a dispatch failure to an HTTP status.
func StatusOf(err error) int {
	var (
		notFound  *RouteNotFoundError
		forbidden *ForbiddenError
		handler   *HandlerExecutionError
		encErr    *encode.Error
		coder     StatusCoder
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, binder.ErrBinding):
		return http.StatusBadRequest
	case errors.As(err, &forbidden) && errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &handler), errors.As(err, &encErr):
		return http.StatusInternalServerError
	case errors.Is(err, ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrBadRequest), isPathError(err):
		return http.StatusBadRequest
	case errors.As(err, &coder):
		return coder.StatusCode()
	}
	return http.StatusInternalServerError
}

// CodeOf maps a dispatch failure to its error code.
func CodeOf(err error) string {
	var (
		notFound  *RouteNotFoundError
		missing   *binder.MissingParameterError
		coercion  *binder.TypeCoercionError
		forbidden *ForbiddenError
		handler   *HandlerExecutionError
		encErr    *encode.Error
		renderErr *RenderError
	)
	switch {
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &missing):
		return CodeMissingParameter
	case errors.As(err, &coercion):
		return CodeTypeCoercion
	case errors.As(err, &forbidden) && errors.Is(err, ErrUnauthenticated):
		return CodeUnauthorized
	case errors.As(err, &forbidden):
		return CodeForbidden
	case errors.As(err, &handler):
		return CodeHandler
	case errors.As(err, &encErr):
		return CodeSerialization
	case errors.As(err, &renderErr):
		return CodeRender
	case errors.Is(err, ErrDraining):
		return CodeUnavailable
	case errors.Is(err, ErrMethodNotAllowed):
		return CodeMethodNotAllowed
	case errors.Is(err, ErrBodyTooLarge):
		return CodeBodyTooLarge
	case errors.Is(err, ErrUnsupportedMediaType):
		return CodeUnsupportedMediaType
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case isPathError(err):
		return CodeInvalidPath
	}
	return CodeInternal
}

func isPathError(err error) bool {
	return errors.Is(err, routepath.ErrInvalidPath)
}

// ErrorResponse is the JSON body of a failed call.
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
	Path   string      `json:"path,omitempty"`
}

// ErrorDetail describes a failure. Param names the offending parameter
// of binding failures.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewErrorResponse builds the error body for err. Server-side failures
// carry a generic message unless details is set.
func NewErrorResponse(err error, path string, details bool) ErrorResponse {
	status := StatusOf(err)
	detail := ErrorDetail{Code: CodeOf(err), Message: publicMessage(err, status, details)}

	var (
		missing  *binder.MissingParameterError
		coercion *binder.TypeCoercionError
	)
	switch {
	case errors.As(err, &missing):
		detail.Param = missing.Param
	case errors.As(err, &coercion):
		detail.Param = coercion.Param
	}
	return ErrorResponse{Error: detail, Status: status, Path: path}
}

func publicMessage(err error, status int, details bool) string {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && !details {
		return http.StatusText(status)
	}
	var (
		missing  *binder.MissingParameterError
		coercion *binder.TypeCoercionError
		notFound *RouteNotFoundError
	)
	switch {
	case errors.As(err, &missing):
		return missing.Error()
	case errors.As(err, &coercion):
		return coercion.Error()
	case errors.As(err, &notFound):
		return "no route or file for " + notFound.Path
	case (status == http.StatusForbidden || status == http.StatusUnauthorized) && !details:
		return http.StatusText(status)
	}
	return err.Error()
}

// errorBody marshals the error body of err.
func errorBody(err error, path string, details bool) []byte {
	body, mErr := json.Marshal(NewErrorResponse(err, path, details))
	if mErr != nil {
		return []byte(`{"error":{"code":"INTERNAL_ERROR","message":"Internal Server Error"},"status":500}`)
	}
	return body
}
