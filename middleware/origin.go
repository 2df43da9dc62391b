package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker builds a websocket CheckOrigin func. An empty allow list accepts any origin.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		hosts[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Host)]
		return ok
	}
}
