package link_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/link"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/slug"
	"github.com/linklethq/linklet/pkg/usage"
)

// fakeStore keeps links in a map with slug uniqueness, mirroring the Mongo
// store's behavior.
type fakeStore struct {
	mu     sync.Mutex
	bySlug map[string]*link.Link
}

func newFakeStore() *fakeStore {
	return &fakeStore{bySlug: make(map[string]*link.Link)}
}

func (s *fakeStore) Create(_ context.Context, l *link.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySlug[l.Slug]; exists {
		return link.ErrSlugTaken
	}
	stored := *l
	s.bySlug[l.Slug] = &stored
	return nil
}

func (s *fakeStore) BySlug(_ context.Context, slugStr string) (*link.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.bySlug[slugStr]
	if !ok {
		return nil, link.ErrLinkNotFound
	}
	copied := *l
	return &copied, nil
}

func (s *fakeStore) ByUser(_ context.Context, userID uuid.UUID) ([]link.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []link.Link
	for _, l := range s.bySlug {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeStore) Deactivate(_ context.Context, userID, linkID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.bySlug {
		if l.ID == linkID && l.UserID == userID {
			l.Active = false
			return nil
		}
	}
	return link.ErrLinkNotFound
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *fakeRecorder) Record(_ context.Context, e usage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeRecorder) CountInPeriod(context.Context, uuid.UUID, plan.Resource, time.Time, time.Time) (int64, error) {
	return 0, nil
}

type quotaFunc func(ctx context.Context, principal core.Principal, res plan.Resource) error

func (f quotaFunc) CanCreate(ctx context.Context, principal core.Principal, res plan.Resource) error {
	return f(ctx, principal, res)
}

func owner() core.Principal {
	return core.Principal{UserID: uuid.New(), CustomerID: "ctm_1", Email: "owner@example.com"}
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()
	principal := owner()

	t.Run("random slug and usage event", func(t *testing.T) {
		store := newFakeStore()
		recorder := &fakeRecorder{}
		svc := link.NewService(store, link.WithRecorder(recorder))

		l, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com/page"})
		require.NoError(t, err)

		assert.Len(t, l.Slug, slug.DefaultLength)
		assert.True(t, l.Active)
		assert.False(t, l.Protected())

		require.Len(t, recorder.events, 1)
		assert.Equal(t, plan.ResourceLinks, recorder.events[0].Resource)
		assert.Equal(t, principal.UserID, recorder.events[0].UserID)
	})

	t.Run("custom alias is normalized", func(t *testing.T) {
		svc := link.NewService(newFakeStore())

		l, err := svc.Create(ctx, principal, link.CreateParams{
			TargetURL: "https://example.com",
			Slug:      "My Summer Sale",
		})
		require.NoError(t, err)
		assert.Equal(t, "my-summer-sale", l.Slug)
	})

	t.Run("duplicate alias rejected", func(t *testing.T) {
		store := newFakeStore()
		svc := link.NewService(store)

		_, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "promo"})
		require.NoError(t, err)

		_, err = svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "promo"})
		assert.ErrorIs(t, err, link.ErrSlugTaken)
	})

	t.Run("invalid targets rejected", func(t *testing.T) {
		svc := link.NewService(newFakeStore())

		for _, target := range []string{"", "ftp://example.com", "javascript:alert(1)", "https://"} {
			_, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: target})
			assert.ErrorIs(t, err, link.ErrInvalidTarget, "target %q", target)
		}
	})

	t.Run("quota exceeded blocks creation", func(t *testing.T) {
		quota := quotaFunc(func(context.Context, core.Principal, plan.Resource) error {
			return usage.ErrLimitExceeded
		})
		svc := link.NewService(newFakeStore(), link.WithQuota(quota))

		_, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com"})
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
	})

	t.Run("password protected link", func(t *testing.T) {
		svc := link.NewService(newFakeStore())

		l, err := svc.Create(ctx, principal, link.CreateParams{
			TargetURL: "https://example.com",
			Password:  "hunter2",
		})
		require.NoError(t, err)
		assert.True(t, l.Protected())
		assert.NoError(t, l.VerifyPassword("hunter2"))
	})
}

func TestServiceResolve(t *testing.T) {
	ctx := context.Background()
	principal := owner()

	store := newFakeStore()
	svc := link.NewService(store)

	live, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "live"})
	require.NoError(t, err)

	t.Run("live link resolves", func(t *testing.T) {
		got, err := svc.Resolve(ctx, "live")
		require.NoError(t, err)
		assert.Equal(t, live.ID, got.ID)
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "nope")
		assert.ErrorIs(t, err, link.ErrLinkNotFound)
	})

	t.Run("deactivated link", func(t *testing.T) {
		l, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "dead"})
		require.NoError(t, err)
		require.NoError(t, store.Deactivate(ctx, principal.UserID, l.ID))

		_, err = svc.Resolve(ctx, "dead")
		assert.ErrorIs(t, err, link.ErrLinkInactive)
	})

	t.Run("expired link", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		_, err := svc.Create(ctx, principal, link.CreateParams{
			TargetURL: "https://example.com",
			Slug:      "expired",
			ExpiresAt: &past,
		})
		require.NoError(t, err)

		_, err = svc.Resolve(ctx, "expired")
		assert.ErrorIs(t, err, link.ErrLinkInactive)
	})
}

func TestServiceListAndDeactivate(t *testing.T) {
	ctx := context.Background()
	principal := owner()
	other := owner()

	store := newFakeStore()
	svc := link.NewService(store)

	mine, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "mine"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, other, link.CreateParams{TargetURL: "https://example.com", Slug: "theirs"})
	require.NoError(t, err)

	t.Run("list returns only the owner's links", func(t *testing.T) {
		links, err := svc.List(ctx, principal.UserID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, "mine", links[0].Slug)
	})

	t.Run("deactivate takes the link out of rotation", func(t *testing.T) {
		require.NoError(t, svc.Deactivate(ctx, principal.UserID, mine.ID))

		_, err := svc.Resolve(ctx, "mine")
		assert.ErrorIs(t, err, link.ErrLinkInactive)
	})

	t.Run("cannot deactivate someone else's link", func(t *testing.T) {
		err := svc.Deactivate(ctx, other.UserID, mine.ID)
		assert.ErrorIs(t, err, link.ErrLinkNotFound)
	})
}

func TestRecordClick(t *testing.T) {
	ctx := context.Background()
	principal := owner()
	recorder := &fakeRecorder{}
	svc := link.NewService(newFakeStore(), link.WithRecorder(recorder))

	l, err := svc.Create(ctx, principal, link.CreateParams{TargetURL: "https://example.com", Slug: "promo"})
	require.NoError(t, err)
	recorder.events = nil // drop the creation event

	svc.RecordClick(ctx, l, "203.0.113.7", "https://ref.example.com")

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.Equal(t, plan.ResourceRedirects, event.Resource)
	assert.Equal(t, principal.UserID, event.UserID)
	assert.Equal(t, "promo", event.Meta["slug"])
	assert.Equal(t, "203.0.113.7", event.Meta["ip"])
}

func TestRandomSlugRetries(t *testing.T) {
	// A store that rejects the first two inserts simulates slug collisions.
	store := &collidingStore{fakeStore: newFakeStore(), failures: 2}
	svc := link.NewService(store)

	l, err := svc.Create(context.Background(), owner(), link.CreateParams{TargetURL: "https://example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, l.Slug)
	assert.Equal(t, 3, store.attempts)
}

type collidingStore struct {
	*fakeStore
	failures int
	attempts int
}

func (s *collidingStore) Create(ctx context.Context, l *link.Link) error {
	s.attempts++
	if s.attempts <= s.failures {
		return link.ErrSlugTaken
	}
	return s.fakeStore.Create(ctx, l)
}
