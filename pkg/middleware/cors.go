package middleware

import (
	"net/http"
	"os"
	"strings"
)

// corsPolicy is a resolved set of allowed origins.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCorsPolicy(allowedOrigins []string) corsPolicy {
	p := corsPolicy{
		allowAll: len(allowedOrigins) == 1 && allowedOrigins[0] == "*",
		origins:  make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		p.origins[o] = struct{}{}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS answers preflight requests and sets Access-Control-Allow-Origin for
// allowed origins. When allowedOrigins is empty the API_ORIGINS environment
// variable is consulted; if that is unset too, next is returned unwrapped.
// Preflights from unknown origins fall through to next.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = originsFromEnv()
	}
	if allowedOrigins == nil {
		return next
	}
	policy := newCorsPolicy(allowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !policy.allows(origin) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.WriteHeader(http.StatusNoContent)
	})
}

// originsFromEnv reads a comma-separated origin list from API_ORIGINS.
func originsFromEnv() (origins []string) {
	for _, o := range strings.Split(os.Getenv("API_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
