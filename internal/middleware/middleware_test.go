package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter() *gin.Engine {
	r := gin.New()
	r.GET("/private", JWTAuth(testSecret), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(jwt.MapClaims)
		c.String(http.StatusOK, claims["sub"].(string))
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := protectedRouter()

	valid, err := IssueToken(testSecret, "ingest", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "ingest", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", "ingest", nil)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
		body   string
	}{
		{"valid", valid, http.StatusOK, "ingest"},
		{"missing", "", http.StatusUnauthorized, "Missing bearer token"},
		{"expired", expired, http.StatusUnauthorized, "Token expired"},
		{"wrong key", wrongKey, http.StatusUnauthorized, "Invalid token"},
		{"unsigned", none, http.StatusUnauthorized, "Invalid token"},
		{"garbage", "not.a.token", http.StatusUnauthorized, "Invalid token"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/private", tt.token)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestRateLimiter_Window(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, retry := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok, "clients are limited independently")

	now = now.Add(time.Minute)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok)
	assert.Len(t, rl.clients, 1, "expired windows are swept")
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, time.Hour))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)

	w := get(r, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLogger_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Logger())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, get(r, "/health", "").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/missing?x=1", "").Code)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "https://any.example", true},
		{"wildcard entry", []string{"*"}, "https://any.example", true},
		{"listed origin", []string{"https://map.example/"}, "https://map.example", true},
		{"case insensitive", []string{"https://Map.Example"}, "https://map.example", true},
		{"unlisted origin", []string{"https://map.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://map.example"}, "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, OriginChecker(tt.origins)(req))
		})
	}
}

func TestCORS_Wildcard(t *testing.T) {
	r := gin.New()
	r.Use(CORS(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
