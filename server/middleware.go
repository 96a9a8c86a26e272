package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/madeddie/mebooks/config"
)

// BasicAuth returns middleware that enforces HTTP Basic Auth.
// If auth is nil, the middleware is a no-op passthrough. CORS preflight
// requests never carry credentials and are let through.
func BasicAuth(auth *config.AuthConfig, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil || auth.Username == "" {
			return next
		}
		challenge := `Basic realm="` + realm + `"`
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(auth.Username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(auth.Password)) != 1 {
				w.Header().Set("WWW-Authenticate", challenge)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowOrigin lets the reader UI call the API from origin. With no origin
// configured, any origin may read the catalog routes, but nothing that
// changes state or touches stored credentials is opened up.
func AllowOrigin(origin string) func(http.Handler) http.Handler {
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := r.Method
			preflight := method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				method = r.Header.Get("Access-Control-Request-Method")
			}

			h := w.Header()
			switch {
			case origin != "":
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			case anyOriginMayCall(method, r.URL.Path):
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				next.ServeHTTP(w, r)
				return
			}
			if preflight {
				if origin == "" {
					h.Set("Access-Control-Allow-Methods", http.MethodGet)
				} else {
					h.Set("Access-Control-Allow-Methods", methods)
				}
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func anyOriginMayCall(method, path string) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	return !strings.HasPrefix(path, "/api/credentials")
}
