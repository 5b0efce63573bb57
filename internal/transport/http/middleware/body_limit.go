package middleware

import (
	"net/http"

	"github.com/baechuer/sofauth/internal/domain"
)

// DefaultMaxBodyBytes caps request bodies at 1 MiB when no limit is
// configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// BodyLimit rejects oversized request bodies. Declared lengths above the cap
// are refused up front with 413; chunked bodies are cut off by MaxBytesReader
// once they cross it.
func BodyLimit(maxBytes int64, writeErr WriteErrFunc) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeErr(w, r, domain.ErrPayloadTooLarge(maxBytes))
				return
			}

			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}

			next.ServeHTTP(w, r)
		})
	}
}
