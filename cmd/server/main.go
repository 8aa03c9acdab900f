package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/linklethq/linklet/core"
	billingapi "github.com/linklethq/linklet/modules/billing"
	"github.com/linklethq/linklet/modules/links"
	qrapi "github.com/linklethq/linklet/modules/qr"
	"github.com/linklethq/linklet/pkg/billing"
	"github.com/linklethq/linklet/pkg/clientip"
	"github.com/linklethq/linklet/pkg/config"
	"github.com/linklethq/linklet/pkg/delayq"
	"github.com/linklethq/linklet/pkg/email"
	"github.com/linklethq/linklet/pkg/httpserver"
	"github.com/linklethq/linklet/pkg/link"
	"github.com/linklethq/linklet/pkg/logger"
	"github.com/linklethq/linklet/pkg/mongodb"
	"github.com/linklethq/linklet/pkg/plan"
	"github.com/linklethq/linklet/pkg/planchange"
	"github.com/linklethq/linklet/pkg/ratelimit"
	"github.com/linklethq/linklet/pkg/redis"
	"github.com/linklethq/linklet/pkg/requestid"
	"github.com/linklethq/linklet/pkg/storage"
	"github.com/linklethq/linklet/pkg/usage"
)

// appConfig aggregates every environment-driven config block.
type appConfig struct {
	Logger  logger.Config
	HTTP    httpserver.Config
	Mongo   mongodb.Config
	Redis   redis.Config
	Plans   plan.Config
	Paddle  billing.PaddleConfig
	DelayQ  delayq.Config
	Email   email.Config
	Billing billingapi.Config

	// CallbackURL is the public URL of the execute-downgrade endpoint the
	// job platform calls back into.
	CallbackURL string `env:"DELAYQ_EXECUTE_CALLBACK_URL,required"`

	// Storage backend: "s3" for production, "local" for development.
	StorageDriver   string `env:"STORAGE_DRIVER" envDefault:"local"`
	LocalStorageDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./data/storage"`
	LocalStorageURL string `env:"STORAGE_LOCAL_BASE_URL" envDefault:"http://localhost:8080/static"`

	// DevEmailDir enables the disk-backed dev sender when Postmark tokens
	// are absent.
	DevEmailDir string `env:"DEV_EMAIL_DIR" envDefault:"./data/emails"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	log := logger.New(cfg.Logger, os.Stdout)
	ctx := context.Background()

	// Infrastructure clients.
	mongoClient, err := mongodb.New(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	db := mongoClient.Database(cfg.Mongo.Database)

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	// Domain stores.
	changeStore := planchange.NewMongoStore(db)
	if err := changeStore.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure change indexes: %w", err)
	}
	linkStore := link.NewMongoStore(db)
	if err := linkStore.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure link indexes: %w", err)
	}
	eventStore := usage.NewMongoEventStore(db)
	if err := eventStore.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure usage indexes: %w", err)
	}

	// Billing platform, plans and quotas.
	catalog, err := plan.NewDefaultCatalog(cfg.Plans)
	if err != nil {
		return fmt.Errorf("build plan catalog: %w", err)
	}

	provider, err := billing.NewPaddleProvider(cfg.Paddle)
	if err != nil {
		return fmt.Errorf("init billing provider: %w", err)
	}

	ledger := usage.NewLedger(planResolver(provider, catalog))
	ledger.RegisterCounter(plan.ResourceLinks, usage.CounterFromEvents(eventStore, plan.ResourceLinks, nil))
	ledger.RegisterCounter(plan.ResourceQRCodes, usage.CounterFromEvents(eventStore, plan.ResourceQRCodes, nil))
	ledger.RegisterCounter(plan.ResourceRedirects, usage.CounterFromEvents(eventStore, plan.ResourceRedirects, nil))

	publisher, err := delayq.NewClient(cfg.DelayQ)
	if err != nil {
		return fmt.Errorf("init delayq client: %w", err)
	}

	// Notifications: Postmark in production, disk in development.
	var sender email.Sender
	if cfg.Email.PostmarkServerToken != "" {
		sender, err = email.NewPostmarkSender(cfg.Email)
		if err != nil {
			return fmt.Errorf("init email sender: %w", err)
		}
	} else {
		log.Warn("postmark tokens absent, writing emails to disk")
		sender = email.NewDevSender(cfg.DevEmailDir)
	}
	notifier := email.NewNotifier(sender, email.WithLogger(log))

	// Object storage for rendered QR codes.
	var objectStore storage.Storage
	switch strings.ToLower(cfg.StorageDriver) {
	case "s3":
		var s3cfg storage.S3Config
		if err := config.Load(&s3cfg); err != nil {
			return fmt.Errorf("parse s3 config: %w", err)
		}
		objectStore, err = storage.NewS3Storage(ctx, s3cfg)
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
	default:
		objectStore, err = storage.NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
	}

	// Services.
	changes := planchange.NewService(catalog, provider, publisher, changeStore, cfg.CallbackURL,
		planchange.WithUsageGuard(ledger),
		planchange.WithNotifier(notifier),
		planchange.WithLogger(log),
	)
	linkSvc := link.NewService(linkStore,
		link.WithQuota(ledger),
		link.WithRecorder(eventStore),
		link.WithLogger(log),
	)

	// Rate limiters share one Redis-backed token bucket store.
	limitStore, err := ratelimit.NewRedisStore(redisClient, "ratelimit")
	if err != nil {
		return fmt.Errorf("init rate limit store: %w", err)
	}
	revertLimiter, err := ratelimit.NewBucket(limitStore, ratelimit.Config{
		Capacity: 5, RefillRate: 5, RefillInterval: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init revert limiter: %w", err)
	}
	verifyLimiter, err := ratelimit.NewBucket(limitStore, ratelimit.Config{
		Capacity: 10, RefillRate: 10, RefillInterval: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init verify limiter: %w", err)
	}

	// HTTP surface.
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(clientip.Middleware)

	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log,
		mongodb.Healthcheck(mongoClient),
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	))

	r.Mount("/api/billing", billingapi.NewService(cfg.Billing, changes, provider, catalog, headerPrincipal,
		billingapi.WithUsageLedger(ledger),
		billingapi.WithRevertLimiter(revertLimiter),
		billingapi.WithLogger(log),
	).Handle())
	r.Mount("/api/qr", qrapi.NewService(objectStore, headerPrincipal,
		qrapi.WithQuota(ledger),
		qrapi.WithRecorder(eventStore),
		qrapi.WithLogger(log),
	).Handle())
	linksModule := links.NewService(linkSvc,
		links.WithPrincipalResolver(headerPrincipal),
		links.WithVerifyLimiter(verifyLimiter),
		links.WithLogger(log),
	)
	r.Mount("/api/links", linksModule.Manage())
	r.Mount("/l", linksModule.Handle())

	log.Info("linklet server starting", logger.Component("main"))
	return httpserver.New(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, r)
}

// headerPrincipal trusts the identity headers injected by the auth gateway
// in front of this service. Requests that bypass the gateway carry no
// headers and resolve to no principal.
func headerPrincipal(r *http.Request) (core.Principal, error) {
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return core.Principal{}, core.ErrNoPrincipal
	}

	p := core.Principal{
		UserID:     userID,
		CustomerID: r.Header.Get("X-Customer-ID"),
		Email:      r.Header.Get("X-User-Email"),
	}
	if !p.Valid() {
		return core.Principal{}, core.ErrNoPrincipal
	}
	return p, nil
}

// planResolver maps a principal to their effective plan via the live
// subscription, using the same provider customer reference the billing
// flows use. Principals without one, or without an active subscription,
// are on the free plan.
func planResolver(provider billing.Provider, catalog *plan.Catalog) usage.PlanResolver {
	return func(ctx context.Context, principal core.Principal) (plan.Plan, error) {
		if principal.CustomerID == "" {
			return catalog.Default(), nil
		}
		sub, err := provider.GetActiveSubscription(ctx, principal.CustomerID)
		if err != nil {
			if errors.Is(err, billing.ErrNoActiveSubscription) {
				return catalog.Default(), nil
			}
			return plan.Plan{}, err
		}
		return catalog.ByProductID(sub.ProductID)
	}
}
