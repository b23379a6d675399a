package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k1"), bcrypt.MinCost)
	require.NoError(t, err)

	a := NewAPIKeyAuth("", []string{string(hash), ""})
	assert.True(t, a.IsValid("k1"))
	assert.True(t, a.IsValid("k1"), "remembered keys stay valid")
	assert.False(t, a.IsValid("k2"))
	assert.False(t, a.IsValid(""))

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header", "X-API-Key", "k1", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer k1", http.StatusNoContent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("secret")
	require.NoError(t, err)

	a := NewAPIKeyAuth(DefaultAPIKeyHeader, nil)
	assert.False(t, a.IsValid("secret"))
	a.AddHash(hash)
	assert.True(t, a.IsValid("secret"))
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = 10
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.SetTimeout(50 * time.Millisecond)

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)

	running := true
	c.AddCheck("scheduler", NewRunningCheck("scheduler", func() bool { return running }))
	c.AddOptionalCheck("redis", func(ctx context.Context) error { return errors.New("refused") })

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.True(t, status.Checks["redis"].Optional)

	running = false
	status = c.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, "scheduler is not running", status.Checks["scheduler"].Message)

	c.RemoveCheck("redis")
	c.RemoveCheck("scheduler")
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	status = c.Check(context.Background())
	assert.False(t, status.Healthy, "checks are bounded by the timeout")
}
