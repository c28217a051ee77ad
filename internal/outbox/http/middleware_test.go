package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRouter(verifier TokenVerifier) *gin.Engine {
	router := gin.New()
	router.Use(AdminAuthMiddleware(verifier, discardLogger()))
	router.GET("/admin", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestAdminAuthMiddleware(t *testing.T) {
	hash, err := HashAdminToken("s3cret-admin-token")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	verifier, err := NewAdminTokenVerifier(hash)
	require.NoError(t, err)
	router := adminRouter(verifier)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"Success_ValidToken", "Bearer s3cret-admin-token", http.StatusOK},
		{"Success_LowercaseScheme", "bearer s3cret-admin-token", http.StatusOK},
		{"Error_MissingHeader", "", http.StatusUnauthorized},
		{"Error_BasicScheme", "Basic s3cret-admin-token", http.StatusUnauthorized},
		{"Error_WrongToken", "Bearer other-token", http.StatusUnauthorized},
		{"Error_EmptyToken", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAdminAuthMiddleware_EmptyHashRejectsEverything(t *testing.T) {
	verifier, err := NewAdminTokenVerifier("")
	require.NoError(t, err)
	router := adminRouter(verifier)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer anything")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminTokenVerifier_MalformedHash(t *testing.T) {
	verifier, err := NewAdminTokenVerifier("not-a-phc-hash")
	require.NoError(t, err)
	assert.False(t, verifier.Verify("anything"))
}

func rateLimitedRouter(ctx context.Context, rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.Use(IPRateLimitMiddleware(ctx, rps, burst, discardLogger()))
	router.POST("/enqueue", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestIPRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("AllowsRequestsWithinBurst", func(t *testing.T) {
		router := rateLimitedRouter(ctx, 10, 5)

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/enqueue", nil)
			req.RemoteAddr = "192.168.1.10:1234"
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("BlocksAfterBurstWithRetryAfter", func(t *testing.T) {
		router := rateLimitedRouter(ctx, 1, 2)

		var last *httptest.ResponseRecorder
		for i := 0; i < 3; i++ {
			last = httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/enqueue", nil)
			req.RemoteAddr = "192.168.1.11:1234"
			router.ServeHTTP(last, req)
		}

		assert.Equal(t, http.StatusTooManyRequests, last.Code)
		assert.NotEmpty(t, last.Header().Get("Retry-After"))
		assert.Contains(t, last.Body.String(), "rate_limit_exceeded")
	})

	t.Run("SeparateBucketsPerIP", func(t *testing.T) {
		router := rateLimitedRouter(ctx, 1, 1)

		for _, ip := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/enqueue", nil)
			req.RemoteAddr = ip
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code, ip)
		}
	})
}

func TestIPLimiterStore_EvictIdle(t *testing.T) {
	store := &ipLimiterStore{rps: 1, burst: 1}
	store.getLimiter("10.0.0.1")
	store.getLimiter("10.0.0.2")

	store.evictIdle(time.Now().Add(time.Minute))

	count := 0
	store.limiters.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Zero(t, count)
}
