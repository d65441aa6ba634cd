// Package app is the composition root. It builds the dependency graph once
// at cold start and exposes the two function entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"orderpush/internal/config"
	"orderpush/internal/external"
	"orderpush/internal/gate"
	"orderpush/internal/notifier"
	"orderpush/internal/orders"
	"orderpush/internal/pubsub"
	"orderpush/internal/push"
	"orderpush/internal/store/firestore"
	"orderpush/internal/store/memory"
	"orderpush/internal/store/postgres"
	"orderpush/internal/store/redis"
	"orderpush/internal/types"
)

// orderStore is what an order backend must provide: persistence for intake
// and counting for the daily-total payload.
type orderStore interface {
	orders.Repository
	notifier.OrderCounter
}

// App holds the handlers and the resources they share.
type App struct {
	logger    types.Logger
	notifier  *notifier.Handler
	intake    *orders.Intake
	extractor *pubsub.Extractor

	closers []func() error
}

// Option customises New. Used by tests and local tooling.
type Option func(*options)

type options struct {
	sink  push.Sink
	clock types.Clock
}

// WithSink replaces the sink selected by configuration.
func WithSink(s push.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithClock replaces the real clock.
func WithClock(c types.Clock) Option {
	return func(o *options) { o.clock = c }
}

// backends lazily opens each client at most once.
type backends struct {
	cfg    *config.Config
	clock  types.Clock
	logger types.Logger

	fs     *firestore.Store
	pg     *postgres.Store
	rd     *redis.Store
	mem    *memory.Store
	closer []func() error
}

func (b *backends) firestore(ctx context.Context) (*firestore.Store, error) {
	if b.fs != nil {
		return b.fs, nil
	}
	projectID := b.cfg.GCP.ProjectID
	if projectID == "" {
		projectID = gcfirestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID, b.cfg.GCP.FirestoreDatabase)
	if err != nil {
		return nil, err
	}
	b.closer = append(b.closer, client.Close)
	b.fs = firestore.New(client, firestore.Collections{
		Gate:   b.cfg.Gate.Collection,
		Ledger: b.cfg.Ledger.Collection,
		Orders: b.cfg.Orders.Collection,
	}, b.clock, b.cfg.Ledger.TTL)
	b.logger.Info("firestore connected", "database", b.cfg.GCP.FirestoreDatabase)
	return b.fs, nil
}

func (b *backends) postgres(ctx context.Context) (*postgres.Store, error) {
	if b.pg != nil {
		return b.pg, nil
	}
	pool, err := postgres.Connect(ctx, b.cfg.Database.URL.Unmask(), b.cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	b.closer = append(b.closer, closePool(pool))
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	b.pg = postgres.New(pool, b.cfg.Ledger.TTL)
	b.logger.Info("postgres connected", "max_conns", b.cfg.Database.MaxConns)
	return b.pg, nil
}

func (b *backends) redis(ctx context.Context) (*redis.Store, error) {
	if b.rd != nil {
		return b.rd, nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     b.cfg.Redis.Addr,
		Password: b.cfg.Redis.Password.Unmask(),
		DB:       b.cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	b.closer = append(b.closer, closeRedis(client))
	b.rd = redis.New(client, b.cfg.Ledger.TTL)
	b.logger.Info("redis connected", "addr", b.cfg.Redis.Addr)
	return b.rd, nil
}

func (b *backends) memory() *memory.Store {
	if b.mem == nil {
		b.mem = memory.New(b.clock, b.cfg.Ledger.TTL)
	}
	return b.mem
}

func (b *backends) gateStore(ctx context.Context) (gate.Store, error) {
	switch b.cfg.Gate.Backend {
	case config.BackendFirestore:
		return b.firestore(ctx)
	case config.BackendPostgres:
		return b.postgres(ctx)
	case config.BackendRedis:
		return b.redis(ctx)
	case config.BackendMemory:
		return b.memory(), nil
	}
	return nil, fmt.Errorf("unknown gate backend %q", b.cfg.Gate.Backend)
}

func (b *backends) ledger(ctx context.Context) (notifier.DeliveryLedger, error) {
	switch b.cfg.Ledger.Backend {
	case config.BackendFirestore:
		return b.firestore(ctx)
	case config.BackendPostgres:
		return b.postgres(ctx)
	case config.BackendRedis:
		return b.redis(ctx)
	case config.BackendMemory:
		return b.memory(), nil
	case config.BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", b.cfg.Ledger.Backend)
}

func (b *backends) orders(ctx context.Context) (orderStore, error) {
	switch b.cfg.Orders.Backend {
	case config.BackendFirestore:
		return b.firestore(ctx)
	case config.BackendPostgres:
		return b.postgres(ctx)
	case config.BackendMemory:
		return b.memory(), nil
	}
	return nil, fmt.Errorf("unknown order backend %q", b.cfg.Orders.Backend)
}

// New builds the App from cfg. Clients are created only for the backends
// the configuration selects. On error every resource opened so far is
// released.
func New(ctx context.Context, cfg *config.Config, logger types.Logger, opts ...Option) (*App, error) {
	o := options{clock: types.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	b := &backends{cfg: cfg, clock: o.clock, logger: logger}
	a, err := build(ctx, cfg, logger, o, b)
	if err != nil {
		_ = closeAll(b.closer)
		return nil, err
	}
	a.closers = b.closer
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, logger types.Logger, o options, b *backends) (*App, error) {
	gateStore, err := b.gateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("gate store: %w", err)
	}
	ledger, err := b.ledger(ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery ledger: %w", err)
	}
	orderRepo, err := b.orders(ctx)
	if err != nil {
		return nil, fmt.Errorf("order store: %w", err)
	}

	sink := o.sink
	if sink == nil {
		sink = newSink(cfg, logger)
	}

	payload, err := newPayloadBuilder(cfg, orderRepo, o.clock)
	if err != nil {
		return nil, err
	}

	handler := notifier.NewHandler(notifier.HandlerConfig{
		Gate:       gate.New(gateStore, cfg.Gate.Window(), o.clock),
		Ledger:     ledger,
		Sink:       sink,
		Payload:    payload,
		Collection: cfg.Orders.Collection,
		Channel:    cfg.Push.Channel,
		Clock:      o.clock,
		Logger:     logger,
	})

	intake := orders.NewIntake(orders.IntakeConfig{
		Repository: orderRepo,
		Logger:     logger,
	})

	logger.Info("functions initialised",
		"gate_backend", cfg.Gate.Backend,
		"ledger_backend", cfg.Ledger.Backend,
		"order_backend", cfg.Orders.Backend,
		"push_provider", cfg.PushProvider(),
		"payload", cfg.Push.Payload,
		"gate_window", cfg.Gate.Window().String(),
		"build", cfg.Build.String(),
	)

	return &App{
		logger:    logger,
		notifier:  handler,
		intake:    intake,
		extractor: pubsub.NewExtractor(cfg.Orders.MaxMessageBytes),
	}, nil
}

func newSink(cfg *config.Config, logger types.Logger) push.Sink {
	if cfg.PushProvider() == config.ProviderLog {
		return push.NewLogSink(logger)
	}

	host, insecure := cfg.Push.Host, false
	switch {
	case strings.HasPrefix(host, "http://"):
		host, insecure = strings.TrimPrefix(host, "http://"), true
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
	}

	transport := external.NewTransport("pusher", external.DefaultRetryPolicy(), cfg.Push.UserAgent)
	return push.NewPusherSink(push.PusherConfig{
		AppID:      cfg.Push.AppID,
		Key:        cfg.Push.Key,
		Secret:     cfg.Push.Secret,
		Cluster:    cfg.Push.Cluster,
		Host:       host,
		Insecure:   insecure,
		RatePerSec: cfg.Push.RatePerSec,
		HTTPClient: external.NewHTTPClient(transport, cfg.Push.Timeout),
		Logger:     logger,
	})
}

func newPayloadBuilder(cfg *config.Config, counter notifier.OrderCounter, clock types.Clock) (notifier.PayloadBuilder, error) {
	if cfg.Push.Payload != config.PayloadDailyTotal {
		return notifier.DocumentPayload{Event: cfg.Push.Event}, nil
	}
	loc, err := cfg.Push.Location()
	if err != nil {
		return nil, err
	}
	return notifier.DailyTotalPayload{
		Event:    cfg.Push.DailyTotalEvent,
		Counter:  counter,
		Location: loc,
		Clock:    clock,
	}, nil
}

// Close releases every client New opened.
func (a *App) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

func closeRedis(client *goredis.Client) func() error {
	return client.Close
}
