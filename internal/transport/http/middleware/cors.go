package middleware

import (
	"net/http"
	"strings"
)

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodDelete, http.MethodPatch, http.MethodOptions,
	}, ", ")
	corsAllowHeaders  = "Accept, Authorization, Content-Type"
	corsExposeHeaders = "Authorization, " + HeaderXRequestID
)

// CORS answers cross-origin requests for browser clients. The response
// always echoes the concrete origin rather than "*" so credentialed
// requests keep working. Preflights are answered here and never reach the
// router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := originAllowed(origin, allowedOrigins)

			// The answer depends on the Origin header, so caches must
			// key on it.
			w.Header().Add("Vary", "Origin")

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
					w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
					w.Header().Set("Access-Control-Max-Age", "3600")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed matches an Origin against the allow-list. "*" admits
// everything; "*.example.com" admits true subdomains of example.com but not
// the apex itself.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}

	for _, a := range allowed {
		switch {
		case a == "*":
			return true
		case a == origin:
			return true
		case strings.HasPrefix(a, "*."):
			domain := strings.TrimPrefix(a, "*.")
			if !strings.HasSuffix(origin, domain) {
				continue
			}
			prefix := strings.TrimSuffix(origin, domain)
			if prefix != "" && strings.HasSuffix(prefix, ".") {
				return true
			}
		}
	}
	return false
}
