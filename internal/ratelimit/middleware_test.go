package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signlink/internal/platform/middleware"
	"signlink/pkg/testutil"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*Result, error) {
	return nil, errors.New("redis down")
}

func newLimited(l Limiter) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Middleware(l, "verify", logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareBlocksAfterLimit(t *testing.T) {
	h := newLimited(NewMemoryLimiter(2, time.Minute))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/verify"), "9.9.9.9", "test")
		last = testutil.DoRequest(h, req)
	}

	testutil.AssertStatusAndError(t, last, http.StatusTooManyRequests, "too_many_requests")
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareKeysByClientIP(t *testing.T) {
	h := newLimited(NewMemoryLimiter(1, time.Minute))

	a := testutil.DoRequest(h, testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/verify"), "1.1.1.1", ""))
	b := testutil.DoRequest(h, testutil.WithClient(testutil.NewRequest(t, http.MethodPost, "/verify"), "2.2.2.2", ""))

	testutil.AssertStatus(t, a, http.StatusOK)
	testutil.AssertStatus(t, b, http.StatusOK)
}

func TestMiddlewareIgnoresSpoofedForwardedFor(t *testing.T) {
	h := middleware.ClientMetadata(middleware.ProxyTrust{})(newLimited(NewMemoryLimiter(2, time.Minute)))

	var codes []int
	for _, forged := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := testutil.NewRequest(t, http.MethodPost, "/verify")
		req.RemoteAddr = "198.51.100.7:5000"
		req.Header.Set("X-Forwarded-For", forged)
		codes = append(codes, testutil.DoRequest(h, req).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	rr := testutil.DoRequest(newLimited(failingLimiter{}), testutil.NewRequest(t, http.MethodPost, "/verify"))
	testutil.AssertStatus(t, rr, http.StatusOK)
}
