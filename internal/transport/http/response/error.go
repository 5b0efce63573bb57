package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/baechuer/sofauth/internal/domain"
)

// ErrorBody is the wire shape every failure returns. `error` carries the
// HTTP status text, `key` the stable machine code clients switch on.
type ErrorBody struct {
	Error            string              `json:"error"`
	Key              string              `json:"key"`
	Message          string              `json:"message"`
	Status           int                 `json:"status"`
	ValidationErrors map[string][]string `json:"validationErrors,omitempty"`
	Locked           bool                `json:"locked,omitempty"`
}

// WriteError converts a domain error into a consistent JSON HTTP error
// response. Non-domain errors are treated as internal errors (500) without
// leaking details.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{
		Status:  http.StatusInternalServerError,
		Key:     "internal_error",
		Message: "internal error",
	}

	var de *domain.Error
	if errors.As(err, &de) {
		body.Status = de.Status()
		body.Key = de.Code
		body.Message = de.Message
		body.ValidationErrors = de.ValidationErrors
		body.Locked = de.Locked
	}
	body.Error = http.StatusText(body.Status)

	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}
