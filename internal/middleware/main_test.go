package middleware

import (
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/auth"
)

var testSessions *auth.Sessions

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	var err error
	testSessions, err = auth.NewSessions(auth.SessionConfig{
		Secret:   "test-jwt-secret-that-is-32-chars!!",
		Issuer:   "tenantcrm",
		Audience: "tenantcrm-api",
		TTL:      time.Hour,
	})
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
