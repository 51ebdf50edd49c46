package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/odyssey-erp/custody/internal/property"
)

// ProblemContentType is the media type of RFC7807 bodies.
const ProblemContentType = "application/problem+json"

// ProblemDetail represents RFC7807 problem details. Field names the input
// that failed validation; Blockers lists the rows that stop a delete.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`

	Field    string             `json:"field,omitempty"`
	Blockers []property.Blocker `json:"blockers,omitempty"`
}

func write(w http.ResponseWriter, status int, contentType string, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, "application/json", data)
}

// WriteProblem sends p with its own status.
func WriteProblem(w http.ResponseWriter, p ProblemDetail) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	write(w, p.Status, ProblemContentType, p)
}

// Problem sends a problem with only a title and detail.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	WriteProblem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

// DecodeJSON decodes JSON request body into the target struct. Unknown
// fields are rejected.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
