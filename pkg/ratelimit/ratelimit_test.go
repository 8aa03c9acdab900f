package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklethq/linklet/pkg/ratelimit"
)

func newStore(t *testing.T) *ratelimit.MemoryStore {
	t.Helper()
	store := ratelimit.NewMemoryStore(ratelimit.WithCleanupInterval(0))
	t.Cleanup(store.Close)
	return store
}

func TestNewBucket(t *testing.T) {
	store := newStore(t)

	cases := []struct {
		name   string
		config ratelimit.Config
	}{
		{"zero capacity", ratelimit.Config{Capacity: 0, RefillRate: 1, RefillInterval: time.Second}},
		{"zero refill rate", ratelimit.Config{Capacity: 1, RefillRate: 0, RefillInterval: time.Second}},
		{"zero interval", ratelimit.Config{Capacity: 1, RefillRate: 1, RefillInterval: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ratelimit.NewBucket(store, tc.config)
			assert.ErrorIs(t, err, ratelimit.ErrInvalidConfig)
		})
	}

	t.Run("nil store", func(t *testing.T) {
		_, err := ratelimit.NewBucket(nil, ratelimit.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Second})
		assert.ErrorIs(t, err, ratelimit.ErrInvalidConfig)
	})
}

func TestBucketAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("denies after capacity is spent", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 3, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		for i := range 3 {
			res, err := bucket.Allow(ctx, "key")
			require.NoError(t, err)
			assert.True(t, res.Allowed(), "request %d", i)
		}

		res, err := bucket.Allow(ctx, "key")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Positive(t, res.RetryAfter())
	})

	t.Run("keys are independent", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		res, err := bucket.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = bucket.Allow(ctx, "b")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("refills over time", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)

		res, err := bucket.Allow(ctx, "key")
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = bucket.Allow(ctx, "key")
		require.NoError(t, err)
		require.False(t, res.Allowed())

		time.Sleep(15 * time.Millisecond)

		res, err = bucket.Allow(ctx, "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("status does not spend tokens", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		for range 3 {
			res, err := bucket.Status(ctx, "key")
			require.NoError(t, err)
			assert.Equal(t, 1, res.Remaining)
		}
	})

	t.Run("rejects non-positive token counts", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		_, err = bucket.AllowN(ctx, "key", 0)
		assert.ErrorIs(t, err, ratelimit.ErrInvalidTokenCount)
	})

	t.Run("reset restores the bucket", func(t *testing.T) {
		bucket, err := ratelimit.NewBucket(newStore(t), ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		_, err = bucket.Allow(ctx, "key")
		require.NoError(t, err)
		require.NoError(t, bucket.Reset(ctx, "key"))

		res, err := bucket.Allow(ctx, "key")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})
}

func TestComposite(t *testing.T) {
	byHeader := func(name string) ratelimit.KeyFunc {
		return func(r *http.Request) string { return r.Header.Get(name) }
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-A", "alpha")
	req.Header.Set("X-B", "beta")

	t.Run("joins parts", func(t *testing.T) {
		key := ratelimit.Composite(byHeader("X-A"), byHeader("X-B"))(req)
		assert.Equal(t, "alpha:beta", key)
	})

	t.Run("skips empty parts", func(t *testing.T) {
		key := ratelimit.Composite(byHeader("X-A"), byHeader("X-Missing"))(req)
		assert.Equal(t, "alpha", key)
	})

	t.Run("hashes long composites", func(t *testing.T) {
		long := httptest.NewRequest(http.MethodGet, "/", nil)
		long.Header.Set("X-A", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		long.Header.Set("X-B", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

		key := ratelimit.Composite(byHeader("X-A"), byHeader("X-B"))(long)
		assert.Len(t, key, 32)
	})

	t.Run("all empty yields empty", func(t *testing.T) {
		key := ratelimit.Composite(byHeader("X-Missing"))(req)
		assert.Empty(t, key)
	})
}

func TestMiddleware(t *testing.T) {
	newHandler := func(t *testing.T, cfg ratelimit.Config, keyFunc ratelimit.KeyFunc) http.Handler {
		t.Helper()
		bucket, err := ratelimit.NewBucket(newStore(t), cfg)
		require.NoError(t, err)

		r := chi.NewRouter()
		r.Use(ratelimit.Middleware(bucket, keyFunc))
		r.Post("/links/{slug}/verify", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		return r
	}

	t.Run("limits by path param", func(t *testing.T) {
		handler := newHandler(t, ratelimit.Config{
			Capacity: 2, RefillRate: 1, RefillInterval: time.Hour,
		}, ratelimit.ByPathParam("slug"))

		for range 2 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/links/abc123/verify", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/links/abc123/verify", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"success":false,"message":"too_many_requests"}`, rec.Body.String())

		// Another slug still has budget.
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/links/zzz999/verify", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("sets rate limit headers", func(t *testing.T) {
		handler := newHandler(t, ratelimit.Config{
			Capacity: 5, RefillRate: 1, RefillInterval: time.Hour,
		}, ratelimit.ByClientIP())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/links/abc123/verify", nil))

		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("empty key passes through", func(t *testing.T) {
		handler := newHandler(t, ratelimit.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		}, func(*http.Request) string { return "" })

		for range 3 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/links/abc123/verify", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestNewRedisStore(t *testing.T) {
	_, err := ratelimit.NewRedisStore(nil, "")
	assert.ErrorIs(t, err, ratelimit.ErrInvalidConfig)
}
