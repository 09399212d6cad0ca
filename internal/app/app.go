// Package app initializes and holds the long-lived services a harvest needs,
// and runs the website, social and filter jobs against them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/credstore"
	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/id/uuid"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/contact-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/contact-harvester/internal/recovery"
	"github.com/JakeFAU/contact-harvester/internal/storage"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
	"github.com/JakeFAU/contact-harvester/internal/storage/postgres"
	"github.com/JakeFAU/contact-harvester/internal/store"
)

// ErrSheetIDNotSet is returned when a Sheets-backed job has no spreadsheet.
var ErrSheetIDNotSet = errors.New("sheet ID not set")

// StoreTarget identifies the spreadsheet a job opens.
type StoreTarget struct {
	SpreadsheetID   string
	CredentialsFile string
}

// StoreFactory opens the tabular store for one job. The close function is
// always non-nil.
type StoreFactory func(ctx context.Context, target StoreTarget, logger *zap.Logger) (harvest.Store, func() error, error)

// FetcherFactory builds the page fetcher for one profile run. The close
// function is always non-nil.
type FetcherFactory func(profile config.ProfileConfig, logger *zap.Logger) (harvest.PageFetcher, func(), error)

// App holds the shared services. It is created once at startup and closed on
// shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	creds    *credstore.Store
	limiter  *ratelimit.Limiter
	memory   *memory.SheetStore
	hub      *progress.Hub
	recovery harvest.RecoverySink
	ledger   store.ResultLedger
	ids      *uuid.Generator

	registerer prometheus.Registerer
	extraSinks []progress.Sink
	engineOpts []harvest.Option
	openStore  StoreFactory
	newFetcher FetcherFactory

	closers []func() error
}

// Option customizes an App.
type Option func(*App)

// WithStoreFactory replaces the backend selection.
func WithStoreFactory(f StoreFactory) Option {
	return func(a *App) {
		a.openStore = f
	}
}

// WithFetcherFactory replaces fetcher construction.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(a *App) {
		a.newFetcher = f
	}
}

// WithRegisterer sets where the progress collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

// WithSinks adds progress sinks next to the configured ones.
func WithSinks(s ...progress.Sink) Option {
	return func(a *App) {
		a.extraSinks = append(a.extraSinks, s...)
	}
}

// WithEngineOptions forwards options to every harvest engine.
func WithEngineOptions(opts ...harvest.Option) Option {
	return func(a *App) {
		a.engineOpts = append(a.engineOpts, opts...)
	}
}

// New creates the App from cfg. It fails fast when a configured
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		memory:     memory.NewSheetStore(),
		ids:        uuid.New(),
		registerer: prometheus.DefaultRegisterer,
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.PerDomainRPS,
			DefaultBurst: cfg.RateLimit.Burst,
		}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.openStore == nil {
		a.openStore = a.defaultStore
	}
	if a.newFetcher == nil {
		a.newFetcher = a.defaultFetcher
	}

	logger.Info("Initializing application services...")

	creds, err := credstore.New(cfg.StorageDir, logger.Named("credstore"))
	if err != nil {
		return nil, err
	}
	if err := creds.Bootstrap(ctx, nil); err != nil {
		return nil, err
	}
	a.creds = creds

	if cfg.Recovery.Enabled {
		blobs, closeBlobs, err := storage.New(ctx, cfg.RecoveryStorage())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize recovery storage: %w", err)
		}
		a.closers = append(a.closers, closeBlobs)
		a.recovery = recovery.New(blobs, logger.Named("recovery"), recovery.WithPrefix(cfg.Recovery.Prefix))
		logger.Info("Recovery dumps enabled", zap.String("backend", cfg.Recovery.Backend))
	}

	progressSinks, err := a.buildSinks(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) buildSinks(ctx context.Context) ([]progress.Sink, error) {
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress"))}

	promSink, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, err
	}
	out = append(out, promSink)

	if a.cfg.DB.Enabled {
		ledger, err := postgres.NewLedger(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize results ledger: %w", err)
		}
		a.closers = append(a.closers, func() error { ledger.Close(); return nil })
		if a.cfg.DB.Migrate {
			if err := ledger.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		a.ledger = ledger
		a.logger.Info("Results ledger enabled")
		out = append(out, sinks.NewLedgerSink(ledger, a.logger.Named("ledger")))
	}

	if a.cfg.PubSub.Enabled {
		client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() error {
			pub.Close()
			return client.Close()
		})
		a.logger.Info("Pub/Sub notifications enabled", zap.String("topic", a.cfg.PubSub.Topic))
		out = append(out, sinks.NewPublishSink(pub, a.cfg.PubSub.Topic, a.logger.Named("publish")))
	}

	return append(out, a.extraSinks...), nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Credentials exposes the key and sheet identifier store.
func (a *App) Credentials() *credstore.Store {
	return a.creds
}

// Ledger returns the results ledger, or nil when db is disabled.
func (a *App) Ledger() store.ResultLedger {
	return a.ledger
}

// MemoryStore returns the grid used by the memory backend.
func (a *App) MemoryStore() *memory.SheetStore {
	return a.memory
}

// SheetID resolves the spreadsheet: configuration first, then the saved file.
func (a *App) SheetID(ctx context.Context) (string, error) {
	if a.cfg.Sheets.SpreadsheetID != "" {
		return a.cfg.Sheets.SpreadsheetID, nil
	}
	return a.creds.SheetID(ctx)
}

// RunProfile harvests the named profile and returns the run summary.
func (a *App) RunProfile(ctx context.Context, name string, logger *zap.Logger) (harvest.Summary, error) {
	if logger == nil {
		logger = a.logger
	}
	profile, err := a.cfg.Profile(name)
	if err != nil {
		return harvest.Summary{}, err
	}
	strategies, err := extract.ByName(profile.Strategies)
	if err != nil {
		return harvest.Summary{}, err
	}
	store, closeStore, err := a.open(ctx, logger)
	if err != nil {
		return harvest.Summary{}, err
	}
	defer a.closeQuietly(closeStore, "store")

	fetcher, closeFetcher, err := a.newFetcher(profile, logger)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("build fetcher: %w", err)
	}
	defer closeFetcher()

	runID, err := a.ids.NewID()
	if err != nil {
		return harvest.Summary{}, err
	}
	delayMin, delayMax := profile.Delays()
	hcfg := harvest.Config{
		RunID:        runID,
		Profile:      name,
		Sheet:        a.cfg.Harvest.Sheet,
		ReadRange:    a.cfg.Harvest.ReadRange,
		Columns:      profile.Columns,
		URLMode:      harvest.URLMode(profile.URLMode),
		Concurrency:  profile.Concurrency,
		DelayMin:     delayMin,
		DelayMax:     delayMax,
		WriteMode:    harvest.WriteMode(a.cfg.Harvest.WriteMode),
		BatchSize:    a.cfg.Harvest.BatchSize,
		Fallback:     harvest.FallbackPolicy(a.cfg.Harvest.Fallback),
		RetryBackoff: time.Duration(a.cfg.Harvest.RetryBackoffMs) * time.Millisecond,
		FollowLinks:  profile.FollowLinks,
		SocialHosts:  profile.SocialHosts,
	}
	opts := []harvest.Option{harvest.WithLogger(logger), harvest.WithEmitter(a.hub)}
	if a.recovery != nil {
		opts = append(opts, harvest.WithRecovery(a.recovery))
	}
	opts = append(opts, a.engineOpts...)

	engine := harvest.NewEngine(hcfg, store, fetcher, extract.New(strategies...), opts...)
	return engine.Run(ctx)
}

// RunFilter copies rows with an email into the filter sheet.
func (a *App) RunFilter(ctx context.Context, logger *zap.Logger) (harvest.FilterSummary, error) {
	if logger == nil {
		logger = a.logger
	}
	store, closeStore, err := a.open(ctx, logger)
	if err != nil {
		return harvest.FilterSummary{}, err
	}
	defer a.closeQuietly(closeStore, "store")

	admin, _ := store.(harvest.SheetAdmin)
	source := a.cfg.Harvest.ReadRange
	if source == "" {
		source = harvest.Config{Sheet: a.cfg.Harvest.Sheet}.Range()
	}
	return harvest.RunFilter(ctx, store, admin, harvest.FilterConfig{
		SourceRange: source,
		EmailColumn: a.cfg.Website.Columns.Email,
		TargetSheet: a.cfg.Harvest.FilterSheet,
	}, logger)
}

func (a *App) open(ctx context.Context, logger *zap.Logger) (harvest.Store, func() error, error) {
	target := StoreTarget{CredentialsFile: a.cfg.Sheets.CredentialsFile}
	if a.cfg.Sheets.Backend == config.BackendSheets {
		id, err := a.SheetID(ctx)
		if err != nil {
			return nil, nil, err
		}
		if id == "" {
			return nil, nil, ErrSheetIDNotSet
		}
		target.SpreadsheetID = id
		if target.CredentialsFile == "" && a.creds.HasServiceAccount() {
			target.CredentialsFile = a.creds.ServiceAccountPath()
		}
	}
	store, closeStore, err := a.openStore(ctx, target, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", a.cfg.Sheets.Backend, err)
	}
	return store, closeStore, nil
}

func (a *App) closeQuietly(fn func() error, what string) {
	if err := fn(); err != nil {
		a.logger.Warn("Close failed", zap.String("resource", what), zap.Error(err))
	}
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closeQuietly(a.closers[i], "service")
	}
	a.closers = nil
}

// Close drains progress events and releases every client, bounded by ctx.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down application services...")
	err := a.hub.Close(ctx)
	a.closeAll()
	return err
}
