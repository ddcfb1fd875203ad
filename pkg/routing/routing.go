package routing

import (
	"net/http"
	"path"
	"strings"
)

// NormalizedServeMux is an http.ServeMux that cleans request paths before
// matching, so "//users/me" and "/users/me/" reach the "/users/me" route.
type NormalizedServeMux struct {
	*http.ServeMux
}

func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{http.NewServeMux()}
}

func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Path; p != "/" && (strings.Contains(p, "//") || strings.HasSuffix(p, "/")) {
		r.URL.Path = path.Clean(p)
		r.URL.RawPath = ""
	}
	nm.ServeMux.ServeHTTP(w, r)
}

// Route pairs a method-qualified pattern with its handler.
type Route struct {
	Pattern string
	Handler http.HandlerFunc
}

// HandleRoutes registers every route on the mux.
func (nm *NormalizedServeMux) HandleRoutes(routes []Route) {
	for _, route := range routes {
		nm.HandleFunc(route.Pattern, route.Handler)
	}
}
