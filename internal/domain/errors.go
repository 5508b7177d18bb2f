package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message.
// Sentinels declared below can therefore be matched with errors.Is even when a
// copy carrying a cause was returned.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Wrap returns a copy of the error carrying cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: cause}
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeDuplicateDocument   = "DUPLICATE_DOCUMENT"
	ErrCodeUnsupportedFileType = "UNSUPPORTED_FILE_TYPE"
	ErrCodeFileTooLarge        = "FILE_TOO_LARGE"
	ErrCodePageLimitExceeded   = "PAGE_LIMIT_EXCEEDED"
	ErrCodeEmbeddingFailed     = "EMBEDDING_FAILED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeEmptyDocument       = "EMPTY_DOCUMENT"
	ErrCodeIndexCorruption     = "INDEX_CORRUPTION"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeResourceExhausted   = "RESOURCE_EXHAUSTED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Document errors
var (
	ErrDocumentNotFound    = NewDomainError(ErrCodeNotFound, "File not found.")
	ErrDuplicateDocument   = NewDomainError(ErrCodeDuplicateDocument, "File already exists.")
	ErrUnsupportedFileType = NewDomainError(ErrCodeUnsupportedFileType, "File type not allowed. Supported types are PDF, TXT and MD.")
	ErrFileTooLarge        = NewDomainError(ErrCodeFileTooLarge, "File is too large.")
	ErrPageLimitExceeded   = NewDomainError(ErrCodePageLimitExceeded, "Document has too many pages.")
	ErrEmptyFile           = NewDomainError(ErrCodeValidation, "File is empty")
	ErrNoFilePart          = NewDomainError(ErrCodeValidation, "No file part")
	ErrNoSelectedFile      = NewDomainError(ErrCodeValidation, "No selected file")
	ErrEmptyDocument       = NewDomainError(ErrCodeEmptyDocument, "Document has no indexed content.")
	ErrEncryptedDocument   = NewDomainError(ErrCodeValidation, "Encrypted PDF files are not supported.")
	ErrNoExtractableText   = NewDomainError(ErrCodeValidation, "No text could be extracted from the document.")
	ErrUnreadableFile      = NewDomainError(ErrCodeValidation, "File could not be read.")
)

// Pipeline and provider errors
var (
	ErrEmbeddingFailed     = NewDomainError(ErrCodeEmbeddingFailed, "embedding generation failed")
	ErrProviderUnavailable = NewDomainError(ErrCodeProviderUnavailable, "model provider unavailable")
	ErrUnknownProvider     = NewDomainError(ErrCodeValidation, "Invalid model provider.")
	ErrIngestionTimeout    = NewDomainError(ErrCodeTimeout, "ingestion timed out")
	ErrResourceExhausted   = NewDomainError(ErrCodeResourceExhausted, "insufficient system resources")
	ErrEmptyQuery          = NewDomainError(ErrCodeValidation, "Query must not be empty.")
)

// Index errors
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeIndexCorruption, "embedding dimension does not match index")
	ErrProviderMismatch  = NewDomainError(ErrCodeIndexCorruption, "embedding provider does not match index")
)

// Authorization errors
var (
	ErrInvalidAPIToken = NewDomainError(ErrCodeUnauthorized, "invalid api token")
)

// CodeOf returns the code of the first DomainError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the user-facing message for err. Non-domain errors yield
// their plain text.
func MessageOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// PartialDeleteError reports a delete-all that could not remove every
// document. Survivors lists the ids still present.
type PartialDeleteError struct {
	Survivors []string
	Err       error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("delete all left %d document(s): %s: %v",
		len(e.Survivors), strings.Join(e.Survivors, ", "), e.Err)
}

func (e *PartialDeleteError) Unwrap() error {
	return e.Err
}
