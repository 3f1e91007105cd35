package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.retryAfter, s.err
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(newRouter(SecurityHeaders()), http.MethodGet, "/ping", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS([]string{"https://ops.example.com", "https://*.internal.example.com"}))

	t.Run("allowed origin", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://ops.example.com"})
		assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard subdomain", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://admin.internal.example.com"})
		assert.Equal(t, "https://admin.internal.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://evil.example.org"})
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		w := serve(r, http.MethodOptions, "/ping", map[string]string{"Origin": "https://ops.example.com"})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := serve(r, http.MethodGet, "/ping", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = serve(r, http.MethodGet, "/ping", map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := newRouter(RequestID(), Logger(logger))

	serve(r, http.MethodGet, "/ping", nil)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, 200, hook.LastEntry().Data["status"])
	assert.Equal(t, "/ping", hook.LastEntry().Data["path"])

	serve(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRateLimit(t *testing.T) {
	t.Run("allows within budget", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		w := serve(newRouter(RateLimit(limiter, "start")), http.MethodGet, "/ping", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, limiter.keys, 1)
		assert.Contains(t, limiter.keys[0], "start:")
	})

	t.Run("rejects with retry after", func(t *testing.T) {
		limiter := &stubLimiter{allowed: false, retryAfter: 1500 * time.Millisecond}
		w := serve(newRouter(RateLimit(limiter, "start")), http.MethodGet, "/ping", nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		limiter := &stubLimiter{err: errors.New("redis down")}
		w := serve(newRouter(RateLimit(limiter, "start")), http.MethodGet, "/ping", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLocalLimiter(t *testing.T) {
	limiter := NewLocalLimiter(0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))

	allowed, _, err = limiter.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, allowed, "keys have independent buckets")
}
