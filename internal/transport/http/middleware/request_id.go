package middleware

import (
	"net/http"

	"github.com/google/uuid"

	appCtx "github.com/baechuer/sofauth/internal/pkg/context"
)

const HeaderXRequestID = "X-Request-Id"

// RequestID tags every request for log correlation: the caller's
// X-Request-Id when present, a fresh uuid otherwise. The id is echoed on
// the response and carried in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderXRequestID, id)

		r = r.WithContext(appCtx.WithRequestID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}
