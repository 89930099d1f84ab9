package server

import (
	"net/http"
	"strings"
)

// allowedOrigins is a parsed comma-separated origin list. "*" allows any origin.
type allowedOrigins struct {
	any     bool
	origins map[string]struct{}
}

func parseOrigins(list string) allowedOrigins {
	a := allowedOrigins{origins: make(map[string]struct{})}
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			a.any = true
		default:
			a.origins[o] = struct{}{}
		}
	}
	return a
}

func (a allowedOrigins) allowed(origin string) bool {
	if a.any {
		return true
	}
	_, ok := a.origins[origin]
	return ok
}

// cors sets CORS headers for allowed origins and answers preflight requests.
// Requests from other origins are served without CORS headers and left to
// the browser to reject.
func cors(list string) func(http.Handler) http.Handler {
	origins := parseOrigins(list)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !origins.allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Request-ID")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
