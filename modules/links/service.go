// Package links serves public short-link redirects and password
// verification for protected links.
package links

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/linklethq/linklet/core"
	"github.com/linklethq/linklet/pkg/clientip"
	"github.com/linklethq/linklet/pkg/link"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/ratelimit"
	"github.com/linklethq/linklet/pkg/slug"
	"github.com/linklethq/linklet/pkg/usage"
)

var (
	errPasswordRequired = core.NewHTTPError(http.StatusUnauthorized, "password_required")
	errInvalidPassword  = core.NewHTTPError(http.StatusUnauthorized, "invalid_password")
	errQuotaExceeded    = core.NewHTTPError(http.StatusForbidden, "quota_exceeded")
	errInvalidTarget    = core.NewHTTPError(http.StatusBadRequest, "invalid_target")
	errInvalidSlug      = core.NewHTTPError(http.StatusBadRequest, "invalid_slug")
	errSlugTaken        = core.NewHTTPError(http.StatusBadRequest, "slug_taken")
)

// PrincipalResolver extracts the authenticated principal from a request.
type PrincipalResolver func(r *http.Request) (core.Principal, error)

// Service wires link resolution to public HTTP and link management to the
// authenticated API.
type Service struct {
	links         *link.Service
	resolve       PrincipalResolver
	verifyLimiter ratelimit.Limiter
	log           *slog.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithVerifyLimiter rate-limits password attempts per slug and client IP.
func WithVerifyLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Service) {
		if limiter != nil {
			s.verifyLimiter = limiter
		}
	}
}

// WithPrincipalResolver enables the authenticated management routes.
func WithPrincipalResolver(resolve PrincipalResolver) Option {
	return func(s *Service) {
		if resolve != nil {
			s.resolve = resolve
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

// NewService creates the public link service. Panics when links is nil.
func NewService(links *link.Service, opts ...Option) *Service {
	if links == nil {
		panic("links: link service is required")
	}

	s := &Service{
		links: links,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle returns the module router, ready to mount.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/{slug}", s.redirect)

	r.Group(func(g chi.Router) {
		if s.verifyLimiter != nil {
			g.Use(ratelimit.Middleware(s.verifyLimiter,
				ratelimit.Composite(ratelimit.ByPathParam("slug"), ratelimit.ByClientIP())))
		}
		g.Post("/{slug}/verify", s.verify)
	})

	return r
}

// Manage returns the authenticated link-management router. Panics when no
// principal resolver was configured; management is not anonymous.
func (s *Service) Manage() http.Handler {
	if s.resolve == nil {
		panic("links: principal resolver is required for management routes")
	}

	r := chi.NewRouter()
	r.Post("/", s.create)
	r.Get("/", s.list)
	r.Delete("/{id}", s.deactivate)
	return r
}

// redirect resolves a slug and sends the visitor to the target URL.
// Protected links get 401 instead; the frontend renders a password prompt.
func (s *Service) redirect(w http.ResponseWriter, r *http.Request) {
	l, err := s.links.Resolve(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.failResolve(w, err)
		return
	}

	if l.Protected() {
		core.Fail(w, errPasswordRequired, nil)
		return
	}

	s.links.RecordClick(r.Context(), l, clientip.GetIP(r), r.Referer())
	http.Redirect(w, r, l.TargetURL, http.StatusFound)
}

type verifyRequest struct {
	Password string `json:"password"`
}

// verify checks the password of a protected link and returns the target URL
// so the frontend can complete the redirect itself.
func (s *Service) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	l, err := s.links.Resolve(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.failResolve(w, err)
		return
	}

	if err := l.VerifyPassword(req.Password); err != nil {
		s.log.InfoContext(r.Context(), "failed password attempt",
			logger.Component("links"),
			logger.Slug(l.Slug))
		core.Fail(w, errInvalidPassword, nil)
		return
	}

	s.links.RecordClick(r.Context(), l, clientip.GetIP(r), r.Referer())
	core.Success(w, core.Payload{"destination": l.TargetURL})
}

type createRequest struct {
	TargetURL string     `json:"targetUrl"`
	Slug      string     `json:"slug,omitempty"`
	Title     string     `json:"title,omitempty"`
	Password  string     `json:"password,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// create adds a link for the authenticated owner, charging the monthly
// link quota.
func (s *Service) create(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	l, err := s.links.Create(r.Context(), principal, link.CreateParams{
		TargetURL: req.TargetURL,
		Slug:      req.Slug,
		Title:     req.Title,
		Password:  req.Password,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.failCreate(w, r, err)
		return
	}

	core.Success(w, core.Payload{"link": linkPayload(l)})
}

// list returns the owner's links, newest first.
func (s *Service) list(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	links, err := s.links.List(r.Context(), principal.UserID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to list links",
			logger.Component("links"), logger.Error(err))
		core.FailWith(w, err)
		return
	}

	out := make([]core.Payload, 0, len(links))
	for i := range links {
		out = append(out, linkPayload(&links[i]))
	}
	core.Success(w, core.Payload{"links": out})
}

// deactivate takes the owner's link out of rotation. The slug is not
// released for reuse.
func (s *Service) deactivate(w http.ResponseWriter, r *http.Request) {
	principal, err := s.resolve(r)
	if err != nil {
		core.Fail(w, core.ErrUnauthorized, nil)
		return
	}

	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		core.Fail(w, core.ErrBadRequest, nil)
		return
	}

	if err := s.links.Deactivate(r.Context(), principal.UserID, linkID); err != nil {
		if errors.Is(err, link.ErrLinkNotFound) {
			core.Fail(w, core.ErrNotFound, nil)
			return
		}
		s.log.ErrorContext(r.Context(), "failed to deactivate link",
			logger.Component("links"), logger.Error(err))
		core.FailWith(w, err)
		return
	}

	core.Success(w, nil)
}

func (s *Service) failCreate(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, usage.ErrLimitExceeded):
		core.Fail(w, errQuotaExceeded, nil)
	case errors.Is(err, link.ErrInvalidTarget):
		core.Fail(w, errInvalidTarget, nil)
	case errors.Is(err, slug.ErrInvalidSlug):
		core.Fail(w, errInvalidSlug, nil)
	case errors.Is(err, link.ErrSlugTaken):
		core.Fail(w, errSlugTaken, nil)
	default:
		s.log.ErrorContext(r.Context(), "failed to create link",
			logger.Component("links"), logger.Error(err))
		core.FailWith(w, err)
	}
}

func linkPayload(l *link.Link) core.Payload {
	p := core.Payload{
		"id":        l.ID.String(),
		"slug":      l.Slug,
		"targetUrl": l.TargetURL,
		"title":     l.Title,
		"active":    l.Active,
		"protected": l.Protected(),
		"createdAt": l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if l.ExpiresAt != nil {
		p["expiresAt"] = l.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return p
}

func (s *Service) failResolve(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, link.ErrLinkNotFound), errors.Is(err, link.ErrLinkInactive):
		// Inactive and missing are indistinguishable on purpose.
		core.Fail(w, core.ErrNotFound, nil)
	default:
		core.Fail(w, core.ErrInternalServerError, nil)
	}
}
