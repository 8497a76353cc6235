package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AaronLay10/SentientBridge/internal/config"
)

func okHandler(called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func TestAuthDisabledWithoutCredentials(t *testing.T) {
	for _, s := range []*config.Secrets{nil, {}, {AdminUser: "admin"}} {
		InitAuth(s)
		if IsAuthEnabled() {
			t.Errorf("auth should be disabled for %+v", s)
		}

		called := false
		w := httptest.NewRecorder()
		RequireAdmin(okHandler(&called))(w, httptest.NewRequest("POST", "/bridge/stop", nil))
		if !called || w.Code != http.StatusOK {
			t.Errorf("handler should run when auth is disabled, got %d", w.Code)
		}
	}
	InitAuth(nil)
}

func TestRequireAdmin(t *testing.T) {
	InitAuth(&config.Secrets{AdminUser: "admin", AdminPass: "secret"})
	defer InitAuth(nil)

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantCode   int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", "secret", true, http.StatusUnauthorized},
		{"valid", "admin", "secret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/bridge/stop", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			called := false
			w := httptest.NewRecorder()
			RequireAdmin(okHandler(&called))(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if called != (tt.wantCode == http.StatusOK) {
				t.Errorf("unexpected handler call: %v", called)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"password", "password", true},
		{"password", "Password", false},
		{"short", "longer-value", false},
		{"", "", true},
	}
	for _, tt := range tests {
		if got := secureCompare(tt.a, tt.b); got != tt.want {
			t.Errorf("secureCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
