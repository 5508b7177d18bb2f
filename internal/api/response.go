package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/lightrag/internal/domain"
)

// SuccessResponse carries the human readable result of a mutation.
type SuccessResponse struct {
	Success string `json:"success"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
}

// PartialDeleteResponse reports documents left behind by a failed delete-all.
type PartialDeleteResponse struct {
	Error     string   `json:"error"`
	Remaining []string `json:"remaining"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a {"success": message} response.
func Success(w http.ResponseWriter, status int, message string) {
	JSON(w, status, SuccessResponse{Success: message})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeDuplicateDocument:
		return http.StatusConflict
	case domain.ErrCodeUnsupportedFileType:
		return http.StatusUnsupportedMediaType
	case domain.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrCodePageLimitExceeded, domain.ErrCodeEmptyDocument:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeEmbeddingFailed:
		return http.StatusBadGateway
	case domain.ErrCodeProviderUnavailable, domain.ErrCodeResourceExhausted:
		return http.StatusServiceUnavailable
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeIndexCorruption, domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type.
// Domain errors expose their message; anything else is reported generically.
func HandleError(w http.ResponseWriter, err error) {
	var partial *domain.PartialDeleteError
	if errors.As(err, &partial) {
		JSON(w, http.StatusInternalServerError, PartialDeleteResponse{
			Error:     "Some documents could not be deleted.",
			Remaining: partial.Survivors,
		})
		return
	}

	status := DomainErrorToHTTP(err)
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		Error(w, status, "An internal error occurred.")
		return
	}
	Error(w, status, domainErr.Message)
}
