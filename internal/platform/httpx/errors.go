// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/custody/internal/property"
)

// ErrBadRequest marks a request that could not be decoded.
var ErrBadRequest = errors.New("malformed request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *property.ValidationError
		block      *property.ReferentialBlock
		violation  *property.InvariantViolation
		conflict   *property.ConflictError
		storage    *property.StorageError
	)
	switch {
	case errors.As(err, &validation):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: validation.Message,
			Field:  validation.Field,
		})
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.As(err, &block):
		WriteProblem(w, ProblemDetail{
			Type:     "referential-block",
			Title:    "Delete Blocked",
			Status:   http.StatusConflict,
			Detail:   block.Error(),
			Blockers: block.Blockers,
		})
	case errors.As(err, &violation):
		WriteProblem(w, ProblemDetail{
			Type:   "invariant-violation",
			Title:  "Invariant Violation",
			Status: http.StatusConflict,
			Detail: violation.Error(),
		})
	case errors.As(err, &conflict):
		Problem(w, http.StatusConflict, "Conflict", conflict.Error())
	case errors.Is(err, property.ErrUniqueViolation):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, property.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &storage):
		WriteProblem(w, ProblemDetail{
			Type:     "storage-failure",
			Title:    "Storage Failure",
			Status:   http.StatusInternalServerError,
			Detail:   storage.Op,
			Blockers: storage.Unremoved,
		})
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
