package security

import (
	"net/http"
	"strings"
)

const bearerScheme = "bearer"

// BearerToken extracts the credential from `Authorization: Bearer <token>`.
// The scheme is matched case-insensitively; the token must be a single non-empty word.
func BearerToken(h http.Header) (string, bool) {
	authz := strings.TrimSpace(h.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", false
	}
	return token, true
}
