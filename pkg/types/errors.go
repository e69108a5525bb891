package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Wire error codes. These are the stable public contract: clients switch on
// them, so renaming one is a breaking change.
const (
	CodeInvalidVersion  = "invalid-version"
	CodeInvalidFilename = "invalid-filename"
	CodeInvalidManifest = "invalid-manifest"
	CodeInvalidRequest  = "invalid-request"
	CodeNameMismatch    = "name-mismatch"
	CodeVersionMismatch = "version-mismatch"
	CodeTagMismatch     = "tag-mismatch"

	CodeUnauthenticated = "unauthenticated"
	CodeTokenInvalid    = "token-invalid"
	CodeTokenExpired    = "token-expired"
	CodeForbidden       = "forbidden"

	CodePackageNotFound = "package-not-found"
	CodeVersionNotFound = "version-not-found"
	CodeVersionExists   = "version-exists"
	CodeNameClaimed     = "name-claimed"

	CodeDigestMismatch = "digest-mismatch"
	CodeSizeMismatch   = "size-mismatch"

	CodeURLNotHTTPS      = "url-not-https"
	CodeURLUnreachable   = "url-unreachable"
	CodeURLRedirectLimit = "url-redirect-limit"
	CodeFetchTimeout     = "fetch-timeout"
	CodeSizeLimit        = "size-limit-exceeded"

	CodeRateLimited = "rate-limited"
	CodeInternal    = "internal-error"
)

// statusByCode maps every error code to its HTTP status.
var statusByCode = map[string]int{
	CodeInvalidVersion:  http.StatusBadRequest,
	CodeInvalidManifest: http.StatusBadRequest,
	CodeInvalidRequest:  http.StatusBadRequest,
	CodeDigestMismatch:  http.StatusBadRequest,
	CodeSizeMismatch:    http.StatusBadRequest,
	CodeURLNotHTTPS:     http.StatusBadRequest,
	CodeURLUnreachable:  http.StatusBadRequest,

	CodeURLRedirectLimit: http.StatusBadRequest,
	CodeFetchTimeout:     http.StatusBadRequest,

	CodeUnauthenticated: http.StatusUnauthorized,
	CodeTokenInvalid:    http.StatusUnauthorized,
	CodeTokenExpired:    http.StatusUnauthorized,

	CodeForbidden:   http.StatusForbidden,
	CodeNameClaimed: http.StatusForbidden,

	CodePackageNotFound: http.StatusNotFound,
	CodeVersionNotFound: http.StatusNotFound,

	CodeVersionExists: http.StatusConflict,

	CodeSizeLimit: http.StatusRequestEntityTooLarge,

	CodeInvalidFilename: http.StatusUnprocessableEntity,
	CodeNameMismatch:    http.StatusUnprocessableEntity,
	CodeVersionMismatch: http.StatusUnprocessableEntity,
	CodeTagMismatch:     http.StatusUnprocessableEntity,

	CodeRateLimited: http.StatusTooManyRequests,
	CodeInternal:    http.StatusInternalServerError,
}

// RegistryError is the one error type that crosses the HTTP boundary.
// Everything a handler returns is either a *RegistryError or gets wrapped
// into an internal-error before rendering.
type RegistryError struct {
	Code    string                   `json:"code"`
	Message string                   `json:"message"`
	Details []map[string]interface{} `json:"details,omitempty"`

	err error
}

func (e *RegistryError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.err }

// Is matches registry errors by code, so sentinel instances work with
// errors.Is regardless of message or details.
func (e *RegistryError) Is(target error) bool {
	var t *RegistryError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the status for this error's code, 500 for unknown codes.
func (e *RegistryError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetail appends one detail object and returns the error for chaining.
func (e *RegistryError) WithDetail(d map[string]interface{}) *RegistryError {
	e.Details = append(e.Details, d)
	return e
}

// ErrorBody is the wire envelope: {"error": {"code", "message", "details"}}.
type ErrorBody struct {
	Error *RegistryError `json:"error"`
}

// Body wraps the error for JSON rendering.
func (e *RegistryError) Body() ErrorBody { return ErrorBody{Error: e} }

// NewError builds a registry error with an arbitrary code.
func NewError(code, message string) *RegistryError {
	return &RegistryError{Code: code, Message: message}
}

// WrapError builds a registry error wrapping a cause.
func WrapError(code, message string, err error) *RegistryError {
	return &RegistryError{Code: code, Message: message, err: err}
}

func ErrInvalidVersion(value string, err error) *RegistryError {
	return WrapError(CodeInvalidVersion, fmt.Sprintf("invalid semantic version %q", value), err)
}

func ErrInvalidFilename(filename, reason string) *RegistryError {
	e := NewError(CodeInvalidFilename, reason)
	return e.WithDetail(map[string]interface{}{"filename": filename})
}

func ErrInvalidRequest(message string) *RegistryError {
	return NewError(CodeInvalidRequest, message)
}

func ErrInvalidManifest(details []map[string]interface{}) *RegistryError {
	e := NewError(CodeInvalidManifest, "manifest validation failed")
	e.Details = details
	return e
}

func ErrNameMismatch(filename, fromFilename, fromManifest string) *RegistryError {
	e := NewError(CodeNameMismatch, "filename distribution name disagrees with manifest")
	return e.WithDetail(map[string]interface{}{
		"filename": filename, "filename_name": fromFilename, "manifest_name": fromManifest,
	})
}

func ErrVersionMismatch(filename, fromFilename, fromManifest string) *RegistryError {
	e := NewError(CodeVersionMismatch, "filename version disagrees with manifest")
	return e.WithDetail(map[string]interface{}{
		"filename": filename, "filename_version": fromFilename, "manifest_version": fromManifest,
	})
}

func ErrTagMismatch(filename, fromFilename, declared string) *RegistryError {
	e := NewError(CodeTagMismatch, "filename platform tag disagrees with declared platform tag")
	return e.WithDetail(map[string]interface{}{
		"filename": filename, "filename_tag": fromFilename, "declared_tag": declared,
	})
}

func ErrUnauthenticated(message string) *RegistryError {
	if message == "" {
		message = "authentication required"
	}
	return NewError(CodeUnauthenticated, message)
}

func ErrTokenInvalid(err error) *RegistryError {
	return WrapError(CodeTokenInvalid, "credential not recognized", err)
}

func ErrTokenExpired() *RegistryError {
	return NewError(CodeTokenExpired, "credential has expired")
}

// ErrForbidden carries a machine-readable sub-reason such as "not-owner" or
// "no-matching-trusted-publisher".
func ErrForbidden(subReason, message string) *RegistryError {
	e := NewError(CodeForbidden, message)
	if subReason != "" {
		e = e.WithDetail(map[string]interface{}{"reason": subReason})
	}
	return e
}

func ErrNameClaimed(name string) *RegistryError {
	e := NewError(CodeNameClaimed, fmt.Sprintf("package name %q is already claimed", name))
	return e.WithDetail(map[string]interface{}{"package": name})
}

func ErrPackageNotFound(name string) *RegistryError {
	return NewError(CodePackageNotFound, fmt.Sprintf("package %q not found", name))
}

func ErrVersionNotFound(name, version string) *RegistryError {
	return NewError(CodeVersionNotFound, fmt.Sprintf("version %s of package %q not found", version, name))
}

func ErrVersionExists(name, version string) *RegistryError {
	e := NewError(CodeVersionExists, fmt.Sprintf("version %s of package %q already exists", version, name))
	return e.WithDetail(map[string]interface{}{"package": name, "version": version})
}

func ErrDigestMismatch(filename, expected, actual string) *RegistryError {
	e := NewError(CodeDigestMismatch, fmt.Sprintf("digest mismatch for %s", filename))
	return e.WithDetail(map[string]interface{}{
		"filename": filename, "expected": expected, "actual": actual,
	})
}

func ErrSizeMismatch(filename string, expected, actual int64) *RegistryError {
	e := NewError(CodeSizeMismatch, fmt.Sprintf("size mismatch for %s", filename))
	return e.WithDetail(map[string]interface{}{
		"filename": filename, "expected": expected, "actual": actual,
	})
}

func ErrURLNotHTTPS(url string) *RegistryError {
	e := NewError(CodeURLNotHTTPS, "distribution URLs must use the https scheme")
	return e.WithDetail(map[string]interface{}{"url": url})
}

func ErrURLUnreachable(url, reason string, err error) *RegistryError {
	e := WrapError(CodeURLUnreachable, fmt.Sprintf("URL could not be fetched: %s", reason), err)
	return e.WithDetail(map[string]interface{}{"url": url})
}

func ErrURLRedirectLimit(url string, limit int) *RegistryError {
	e := NewError(CodeURLRedirectLimit, fmt.Sprintf("URL exceeded the redirect limit of %d", limit))
	return e.WithDetail(map[string]interface{}{"url": url})
}

func ErrFetchTimeout(url string, err error) *RegistryError {
	e := WrapError(CodeFetchTimeout, "fetch deadline exceeded", err)
	return e.WithDetail(map[string]interface{}{"url": url})
}

func ErrSizeLimit(url string, limit int64) *RegistryError {
	e := NewError(CodeSizeLimit, fmt.Sprintf("artifact exceeds the size ceiling of %d bytes", limit))
	return e.WithDetail(map[string]interface{}{"url": url, "limit": limit})
}

func ErrRateLimited(limit, remaining int, reset int64) *RegistryError {
	e := NewError(CodeRateLimited, "rate limit exceeded")
	return e.WithDetail(map[string]interface{}{
		"limit": limit, "remaining": remaining, "reset": reset,
	})
}

func ErrInternal(err error) *RegistryError {
	return WrapError(CodeInternal, "internal error", err)
}
