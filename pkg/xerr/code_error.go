package xerr

import (
	"errors"
	"fmt"
)

// CodeError carries a stable error code alongside the message so handlers can
// map failures onto the unified JSON envelope, and callers can branch on the
// failure class without string matching.
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("Code: %d, Message: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

// New creates a CodeError without a cause.
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Wrap creates a CodeError wrapping an upstream cause.
func Wrap(code int, msg string, cause error) *CodeError {
	return &CodeError{Code: code, Message: msg, cause: cause}
}

// CodeOf extracts the code from err, walking the wrap chain.
// Returns InternalServerError for non-CodeError values.
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return InternalServerError
}

// Generic HTTP-level codes.
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
)

// RAG pipeline failure classes.
const (
	// CodeStorageUnavailable: the history or document store is unreachable.
	CodeStorageUnavailable = 1001
	// CodeRetrievalFailed: embedding or vector search failed; the message
	// carries the reformulated query for diagnostics.
	CodeRetrievalFailed = 1002
	// CodeGenerationFailed: the chat model exhausted its retries.
	CodeGenerationFailed = 1003
	// CodeIngestRow: a single malformed row was skipped during ingest.
	CodeIngestRow = 1004
)

var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "hệ thống gặp sự cố, vui lòng thử lại sau")
	ErrParam       = New(BadRequest, "tham số không hợp lệ")
)
