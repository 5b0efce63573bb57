package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/baechuer/sofauth/internal/domain"
)

// DecodeJSON decodes a JSON request body into dst. Unknown fields are
// allowed (signup forms carry model-defined fields); a second JSON value
// after the first is not.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidJSON(err)
	}
	return rejectTrailing(dec)
}

// rejectTrailing demands EOF after the decoded value so bodies like {}{}
// fail instead of silently dropping the second document.
func rejectTrailing(dec *json.Decoder) error {
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return domain.ErrInvalidJSON(err)
	default:
		return domain.ErrInvalidJSON(errors.New("multiple JSON values"))
	}
}
