package link

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/slug"
	"github.com/linklethq/linklet/pkg/usage"
)

// slugRetries bounds random-slug regeneration on the unlikely collision.
const slugRetries = 3

// Quota gates resource creation against the owner's plan.
// usage.Ledger satisfies it.
type Quota interface {
	CanCreate(ctx context.Context, principal core.Principal, res plan.Resource) error
}

// ServiceOption configures optional Service dependencies.
type ServiceOption func(*Service)

// WithQuota enables plan-limit checks on link creation.
func WithQuota(q Quota) ServiceOption {
	return func(s *Service) {
		if q != nil {
			s.quota = q
		}
	}
}

// WithRecorder enables usage-event accounting.
func WithRecorder(r usage.EventStore) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements link creation, resolution and click accounting.
type Service struct {
	store    Store
	quota    Quota
	recorder usage.EventStore
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a link Service. Panics on a nil store.
func NewService(store Store, opts ...ServiceOption) *Service {
	if store == nil {
		panic("link: store is required")
	}

	s := &Service{
		store: store,
		log:   slog.New(slog.DiscardHandler),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams describes a new link.
type CreateParams struct {
	TargetURL string
	Slug      string // optional custom alias; random when empty
	Title     string
	Password  string // optional access password
	ExpiresAt *time.Time
}

// Create validates the target, assigns a slug and persists the link,
// charging the owner's monthly quota.
func (s *Service) Create(ctx context.Context, principal core.Principal, params CreateParams) (*Link, error) {
	if err := validateTarget(params.TargetURL); err != nil {
		return nil, err
	}

	if s.quota != nil {
		if err := s.quota.CanCreate(ctx, principal, plan.ResourceLinks); err != nil {
			return nil, err
		}
	}

	l := &Link{
		ID:        uuid.New(),
		UserID:    principal.UserID,
		TargetURL: params.TargetURL,
		Title:     params.Title,
		Active:    true,
		ExpiresAt: params.ExpiresAt,
	}
	if err := l.SetPassword(params.Password); err != nil {
		return nil, err
	}

	if params.Slug != "" {
		normalized := slug.Normalize(params.Slug)
		if err := slug.Validate(normalized); err != nil {
			return nil, err
		}
		l.Slug = normalized
		if err := s.store.Create(ctx, l); err != nil {
			return nil, err
		}
	} else if err := s.createWithRandomSlug(ctx, l); err != nil {
		return nil, err
	}

	s.record(ctx, principal.UserID, plan.ResourceLinks, bson.M{"slug": l.Slug})
	s.log.InfoContext(ctx, "link created",
		logger.Component("link"),
		logger.Slug(l.Slug),
		logger.UserID(principal.UserID))

	return l, nil
}

// List returns the owner's links, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Link, error) {
	return s.store.ByUser(ctx, userID)
}

// Deactivate takes the owner's link out of rotation; its slug keeps
// resolving to ErrLinkInactive rather than being released for reuse.
func (s *Service) Deactivate(ctx context.Context, userID, linkID uuid.UUID) error {
	if err := s.store.Deactivate(ctx, userID, linkID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "link deactivated",
		logger.Component("link"),
		logger.UserID(userID))
	return nil
}

// Resolve returns the live link for a slug. Disabled and expired links
// resolve to ErrLinkInactive so the handler can distinguish them from
// unknown slugs.
func (s *Service) Resolve(ctx context.Context, slugStr string) (*Link, error) {
	l, err := s.store.BySlug(ctx, slugStr)
	if err != nil {
		return nil, err
	}
	if !l.Active || l.Expired(s.now()) {
		return nil, ErrLinkInactive
	}
	return l, nil
}

// RecordClick accounts a served redirect. Over-quota owners keep their
// links working; the ledger only gates creation.
func (s *Service) RecordClick(ctx context.Context, l *Link, clientIP, referrer string) {
	meta := bson.M{"slug": l.Slug}
	if clientIP != "" {
		meta["ip"] = clientIP
	}
	if referrer != "" {
		meta["referrer"] = referrer
	}
	s.record(ctx, l.UserID, plan.ResourceRedirects, meta)
}

func (s *Service) createWithRandomSlug(ctx context.Context, l *Link) error {
	for attempt := 0; attempt < slugRetries; attempt++ {
		generated, err := slug.New(slug.DefaultLength)
		if err != nil {
			return err
		}
		l.Slug = generated

		err = s.store.Create(ctx, l)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSlugTaken) {
			return err
		}
	}
	return ErrSlugTaken
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, res plan.Resource, meta bson.M) {
	if s.recorder == nil {
		return
	}
	event := usage.Event{
		UserID:   userID,
		Resource: res,
		At:       s.now().UTC(),
		Meta:     meta,
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		s.log.WarnContext(ctx, "failed to record usage event",
			logger.Component("link"), logger.Error(err))
	}
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidTarget
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidTarget
	}
	return nil
}
