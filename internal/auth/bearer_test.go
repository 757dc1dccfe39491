package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBearerAuth_Authenticate(t *testing.T) {
	b := NewBearerAuth("secret-token")

	assert.NoError(t, b.Authenticate("Bearer secret-token"))
	assert.ErrorIs(t, b.Authenticate("Bearer wrong-token"), ErrInvalidBearer)
	assert.ErrorIs(t, b.Authenticate(""), ErrMissingBearer)
	assert.ErrorIs(t, b.Authenticate("Basic secret-token"), ErrMissingBearer)
}

func TestBearerAuth_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	b := NewBearerAuth("secret-token")

	r := gin.New()
	r.Use(b.Middleware())
	r.POST("/api/v1/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest("POST", "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)

	req2, _ := http.NewRequest("POST", "/api/v1/events", nil)
	resp2 := httptest.NewRecorder()
	r.ServeHTTP(resp2, req2)
	assert.Equal(t, http.StatusUnauthorized, resp2.Code)
}
