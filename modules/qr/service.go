// Package qr exposes QR code generation over HTTP: rendered codes are
// stored for reuse and returned inline as a data URI.
package qr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/qr"
	"github.com/linklethq/linklet/pkg/slug"
	"github.com/linklethq/linklet/pkg/storage"
	"github.com/linklethq/linklet/pkg/usage"
)

var (
	errQuotaExceeded = core.NewHTTPError(http.StatusForbidden, "quota_exceeded")
	errInvalidInput  = core.NewHTTPError(http.StatusBadRequest, "invalid_content")
)

// PrincipalResolver extracts the authenticated principal from a request.
type PrincipalResolver func(r *http.Request) (core.Principal, error)

// Quota gates resource creation against the owner's plan.
// usage.Ledger satisfies it.
type Quota interface {
	CanCreate(ctx context.Context, principal core.Principal, res plan.Resource) error
}

// Service renders, stores and serves QR codes.
type Service struct {
	store    storage.Storage
	resolve  PrincipalResolver
	quota    Quota
	recorder usage.EventStore
	log      *slog.Logger
	now      func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithQuota enables plan-limit checks on generation.
func WithQuota(q Quota) Option {
	return func(s *Service) {
		if q != nil {
			s.quota = q
		}
	}
}

// WithRecorder enables usage-event accounting.
func WithRecorder(r usage.EventStore) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the QR HTTP service. Panics when a required dependency
// is missing.
func NewService(store storage.Storage, resolve PrincipalResolver, opts ...Option) *Service {
	if store == nil {
		panic("qr: storage is required")
	}
	if resolve == nil {
		panic("qr: principal resolver is required")
	}

	s := &Service{
		store:   store,
		resolve: resolve,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the module router, ready to mount.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/generate", s.generate)
	return r
}

type generateRequest struct {
	Content string `json:"content"`
	Size    int    `json:"size,omitempty"`
}

// generate renders a QR code, stores the PNG and returns it inline so the
// dashboard can preview without a second round trip.
func (s *Service) generate(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	if s.quota != nil {
		if err := s.quota.CanCreate(r.Context(), principal, plan.ResourceQRCodes); err != nil {
			if errors.Is(err, usage.ErrLimitExceeded) {
				core.Fail(w, errQuotaExceeded, nil)
				return
			}
			core.FailWith(w, err)
			return
		}
	}

	png, err := qr.Generate(req.Content, req.Size)
	if err != nil {
		if errors.Is(err, qr.ErrEmptyContent) || errors.Is(err, qr.ErrContentTooLong) {
			core.Fail(w, errInvalidInput, nil)
			return
		}
		s.log.ErrorContext(r.Context(), "qr generation failed",
			logger.Component("qr"), logger.Error(err))
		core.Fail(w, core.ErrInternalServerError, nil)
		return
	}

	path := fmt.Sprintf("qr/%s/%s.png", principal.UserID, slug.MustNew())
	if err := s.store.Put(r.Context(), path, png, "image/png"); err != nil {
		s.log.ErrorContext(r.Context(), "failed to store qr image",
			logger.Component("qr"), logger.Error(err))
		core.Fail(w, core.ErrInternalServerError, nil)
		return
	}

	if s.recorder != nil {
		if err := s.recorder.Record(r.Context(), usage.Event{
			UserID:   principal.UserID,
			Resource: plan.ResourceQRCodes,
			At:       s.now().UTC(),
			Meta:     bson.M{"path": path},
		}); err != nil {
			// Accounting must not fail the request that already stored data.
			s.log.WarnContext(r.Context(), "failed to record qr usage",
				logger.Component("qr"), logger.UserID(principal.UserID), logger.Error(err))
		}
	}

	core.Success(w, core.Payload{
		"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"path":  path,
		"url":   s.store.URL(path),
	})
}
