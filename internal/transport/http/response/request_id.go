package response

import (
	"net/http"

	pkgctx "github.com/baechuer/sofauth/internal/pkg/context"
)

// RequestIDFromContext extracts the request id set by the RequestID
// middleware, for log correlation.
func RequestIDFromContext(r *http.Request) string {
	return pkgctx.GetRequestID(r.Context())
}
