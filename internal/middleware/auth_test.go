package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/authz"
)

func generateTestJWT(t *testing.T, identityID, email string, ttl time.Duration) string {
	t.Helper()
	sessions, err := auth.NewSessions(auth.SessionConfig{
		Secret:   "test-jwt-secret-that-is-32-chars!!",
		Issuer:   "tenantcrm",
		Audience: "tenantcrm-api",
		TTL:      ttl,
	})
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	token, err := sessions.Issue(identityID, email)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

// newAuthRouter echoes the resolved caller's identity in the X-Identity header
func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(testSessions))
	r.GET("/", func(c *gin.Context) {
		caller := CallerFromContext(c)
		c.Header("X-Identity", caller.IdentityID)
		c.Header("X-Email", caller.Email)
		c.Header("X-Caller-IP", caller.IPAddress)
		c.Header("X-Caller-UA", caller.UserAgent)
		c.Status(http.StatusOK)
	})
	return r
}

func doAuthRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	req.Header.Set("User-Agent", "crm-test/1.0")
	req.RemoteAddr = "192.0.2.10:5555"
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired := generateTestJWT(t, "idp|old", "old@example.com", -time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"non-bearer prefix", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer    "},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"foreign audience", "Bearer " + foreignAudience(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(newAuthRouter(), tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func foreignAudience(t *testing.T) string {
	t.Helper()
	other, err := auth.NewSessions(auth.SessionConfig{
		Secret:   "test-jwt-secret-that-is-32-chars!!",
		Issuer:   "tenantcrm",
		Audience: "reporting-api",
	})
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	token, err := other.Issue("idp|alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestAuthMiddleware_ValidToken_SetsCaller(t *testing.T) {
	token := generateTestJWT(t, "idp|alice", "alice@example.com", time.Hour)

	w := doAuthRequest(newAuthRouter(), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Identity"); got != "idp|alice" {
		t.Errorf("identity = %q, want idp|alice", got)
	}
	if got := w.Header().Get("X-Email"); got != "alice@example.com" {
		t.Errorf("email = %q", got)
	}
	if got := w.Header().Get("X-Caller-IP"); got != "192.0.2.10" {
		t.Errorf("ip = %q, want 192.0.2.10", got)
	}
	if got := w.Header().Get("X-Caller-UA"); got != "crm-test/1.0" {
		t.Errorf("user agent = %q", got)
	}
}

func TestCallerFromContext_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if caller := CallerFromContext(c); caller.Authenticated() {
		t.Errorf("caller = %+v, want unauthenticated", caller)
	}

	c.Set(CallerKey, "not a caller")
	if caller := CallerFromContext(c); caller != (authz.Caller{}) {
		t.Errorf("caller = %+v, want zero value", caller)
	}
}
