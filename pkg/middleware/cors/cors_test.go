package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func request(origins []string, method, origin string, preflight bool) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(New(origins))
	router.Any("/api/v1/admin/grievances", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/api/v1/admin/grievances", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestExactOriginGetsCredentials(t *testing.T) {
	rec := request([]string{"https://admin.transit.example/"}, http.MethodGet, "https://admin.transit.example", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://admin.transit.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestUnknownOriginIsNotEchoed(t *testing.T) {
	rec := request([]string{"https://admin.transit.example"}, http.MethodGet, "https://evil.example", false)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestSubdomainPattern(t *testing.T) {
	origins := []string{"https://*.transit.example"}

	assert.Equal(t, "https://depot.transit.example", request(origins, http.MethodGet, "https://depot.transit.example", false).Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, request(origins, http.MethodGet, "http://depot.transit.example", false).Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, request(origins, http.MethodGet, "https://transit.example.evil", false).Header().Get("Access-Control-Allow-Origin"))
}

func TestWildcardNeverSendsCredentials(t *testing.T) {
	rec := request(nil, http.MethodGet, "https://anywhere.example", false)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestPreflightShortCircuits(t *testing.T) {
	rec := request([]string{"https://admin.transit.example"}, http.MethodOptions, "https://admin.transit.example", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}
