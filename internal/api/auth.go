package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/SentientBridge/internal/config"
)

// authConfig holds the admin credentials guarding control endpoints.
type authConfig struct {
	adminUser string
	adminPass string
	enabled   bool
}

var auth *authConfig

// InitAuth takes the admin credentials from s. Without both a user and a
// password, authentication is disabled.
func InitAuth(s *config.Secrets) {
	if s == nil {
		auth = nil
		return
	}
	auth = &authConfig{
		adminUser: s.AdminUser,
		adminPass: s.AdminPass,
		enabled:   s.AdminEnabled(),
	}
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

func authenticate(r *http.Request) bool {
	if !IsAuthEnabled() {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// Evaluate both to keep timing independent of which one mismatched
	userOK := secureCompare(user, auth.adminUser)
	passOK := secureCompare(pass, auth.adminPass)
	return userOK && passOK
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireAdmin wraps a handler with basic authentication.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Sentient Bridge"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}
