package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/progress"
)

// Concurrency bounds accepted by Config.Validate.
const (
	MinConcurrency = 1
	MaxConcurrency = 32
)

// Config parameterizes one run. Profiles differ only in the values placed
// here: columns, URL mode, follow-up behavior, write policy and pacing.
type Config struct {
	RunID   string
	Profile string

	Sheet     string
	ReadRange string
	Columns   Columns
	URLMode   URLMode

	Concurrency int
	DelayMin    time.Duration
	DelayMax    time.Duration

	WriteMode    WriteMode
	BatchSize    int
	Fallback     FallbackPolicy
	RetryBackoff time.Duration

	// FollowLinks lists href substrings of follow-up pages tried in order
	// when the landing page has no email, e.g. "contact", "about".
	FollowLinks []string
	// SocialHosts enables discovery of a social profile link that replaces
	// the fallback value when no email is found.
	SocialHosts []string
}

// Range returns the configured read range or the default used range.
func (c Config) Range() string {
	if strings.TrimSpace(c.ReadRange) != "" {
		return c.ReadRange
	}
	return fmt.Sprintf("%s!A1:Z9999", QuoteSheet(c.Sheet))
}

// Validate reports the first ConfigurationError in c.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Sheet) == "" {
		return configError("sheet", "sheet name is required")
	}
	if c.ReadRange != "" {
		if _, err := ParseRange(c.ReadRange); err != nil {
			return configError("read_range", "%v", err)
		}
	}
	if strings.TrimSpace(c.Columns.Link) == "" {
		return configError("columns.link", "link column is required")
	}
	if strings.TrimSpace(c.Columns.Email) == "" {
		return configError("columns.email", "email column is required")
	}
	switch c.URLMode {
	case URLOrigin, URLFull:
	default:
		return configError("url_mode", "unsupported mode %q", c.URLMode)
	}
	if c.Concurrency < MinConcurrency || c.Concurrency > MaxConcurrency {
		return configError("concurrency", "must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, c.Concurrency)
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return configError("delay", "invalid delay window [%s, %s]", c.DelayMin, c.DelayMax)
	}
	switch c.WriteMode {
	case WriteImmediate:
	case WriteBatched:
		if c.BatchSize <= 0 {
			return configError("batch_size", "must be positive in batched mode")
		}
	default:
		return configError("write_mode", "unsupported mode %q", c.WriteMode)
	}
	switch c.Fallback {
	case FallbackRestore, FallbackClear:
	default:
		return configError("fallback", "unsupported policy %q", c.Fallback)
	}
	if c.RunID != "" {
		if _, err := uuid.Parse(c.RunID); err != nil {
			return configError("run_id", "must be a UUID: %v", err)
		}
	}
	return nil
}

// Engine runs the load, fetch, extract and write-back pipeline for one
// Config against one Store.
type Engine struct {
	cfg       Config
	store     Store
	fetcher   PageFetcher
	extractor *extract.Extractor

	logger    *zap.Logger
	emitter   progress.Emitter
	recovery  RecoverySink
	schedOpts []SchedulerOption
	now       func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sends progress events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithRecovery hands failed batches to sink.
func WithRecovery(sink RecoverySink) Option {
	return func(e *Engine) {
		e.recovery = sink
	}
}

// WithSchedulerOptions forwards options to the Scheduler built by Run.
func WithSchedulerOptions(opts ...SchedulerOption) Option {
	return func(e *Engine) {
		e.schedOpts = append(e.schedOpts, opts...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an Engine. A nil extractor uses the default strategies.
func NewEngine(cfg Config, store Store, fetcher PageFetcher, extractor *extract.Extractor, opts ...Option) *Engine {
	if extractor == nil {
		extractor = extract.New()
	}
	e := &Engine{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the whole run. Per-target failures are absorbed and counted
// in the Summary; the returned error is reserved for configuration errors,
// load failures and cancellation. Pending writes are always flushed.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := e.now()
	if err := e.cfg.Validate(); err != nil {
		return Summary{}, err
	}
	if e.store == nil || e.fetcher == nil {
		return Summary{}, configError("engine", "store and fetcher are required")
	}

	runID := uuid.New()
	if e.cfg.RunID != "" {
		runID = uuid.MustParse(e.cfg.RunID)
	}
	summary := Summary{RunID: runID.String()}
	logger := e.logger.With(zap.String("run_id", summary.RunID), zap.String("profile", e.cfg.Profile))
	e.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunStart})

	targets, cols, err := LoadTargets(ctx, e.store, e.cfg.Range(), e.cfg.Columns, e.cfg.URLMode, logger)
	if err != nil {
		e.emitRunEnd(runID, summary, start, err)
		return summary, err
	}

	writer := e.newWriter(cols, summary.RunID, logger)
	tracker := newOutcomeTracker(len(targets))
	sched := NewScheduler(e.cfg.Concurrency, e.cfg.DelayMin, e.cfg.DelayMax, e.schedOpts...)

	logger.Info("Run started",
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", sched.Limit()),
		zap.String("write_mode", string(e.cfg.WriteMode)))

	runErr := sched.Run(ctx, targets, func(ctx context.Context, t Target) {
		res := e.process(ctx, t, logger)
		// A fetched result is persisted even if the run is canceled meanwhile.
		if err := writer.Commit(context.WithoutCancel(ctx), res); err != nil {
			e.handleWriteError(err, res.Row, tracker, logger)
			if res.Outcome != OutcomeWriteError && containsRow(err, res.Row) {
				res.Outcome = OutcomeWriteError
				res.FailedStage = StageWritten
				res.Err = err
			}
		}
		tracker.set(res.Row, res.Outcome)
		e.logTarget(logger, res)
		e.emit(progress.Event{
			RunID:    progress.UUIDToBytes(runID),
			Stage:    progress.StageTargetDone,
			Row:      res.Row,
			URL:      res.URL,
			Site:     siteOf(res.URL),
			Name:     res.DisplayName,
			Email:    res.Email,
			Strategy: string(res.Strategy),
			Outcome:  string(res.Outcome),
			Dur:      res.Duration,
			Note:     errString(res.Err),
		})
	})

	// The flush must run even when the run was canceled.
	if err := writer.Flush(context.WithoutCancel(ctx)); err != nil {
		e.handleWriteError(err, 0, tracker, logger)
	}

	tracker.fill(&summary)
	summary.Duration = e.now().Sub(start)
	logger.Info("Run finished",
		zap.Int("total", summary.Total),
		zap.Int("found", summary.Found),
		zap.Int("not_found", summary.NotFound),
		zap.Int("fetch_failed", summary.FetchFailed),
		zap.Int("write_failed", summary.WriteFailed),
		zap.Duration("duration", summary.Duration))

	if runErr != nil {
		runErr = fmt.Errorf("run interrupted: %w", runErr)
	}
	e.emitRunEnd(runID, summary, start, runErr)
	return summary, runErr
}

func (e *Engine) newWriter(cols ColumnMap, runID string, logger *zap.Logger) Writer {
	if e.cfg.WriteMode == WriteBatched {
		return NewBatchWriter(e.store, e.cfg.Sheet, cols, e.cfg.Fallback, e.cfg.BatchSize, runID, e.recovery, logger)
	}
	return NewImmediateWriter(e.store, e.cfg.Sheet, cols, e.cfg.Fallback, e.cfg.RetryBackoff, logger)
}

// process drives one target through Fetching and Extracted. It never fails:
// fetch errors are recorded on the Result.
func (e *Engine) process(ctx context.Context, t Target, logger *zap.Logger) Result {
	started := e.now()
	res := Result{
		Row:         t.Row,
		URL:         t.URL,
		DisplayName: t.DisplayName,
		Fallback:    t.FallbackValue,
		Outcome:     OutcomeNotFound,
	}

	content, err := e.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		res.Outcome = OutcomeFetchError
		res.FailedStage = StageFetching
		res.Err = &FetchError{URL: t.URL, Err: err}
		res.Duration = e.now().Sub(started)
		return res
	}

	res.Email, res.Strategy = e.extractor.Extract(content)
	if res.Email == "" {
		res.Email, res.Strategy = e.followUp(ctx, t, content, logger)
	}
	if res.Email == "" && len(e.cfg.SocialHosts) > 0 {
		if link := extract.SocialLink(content, t.URL, e.cfg.SocialHosts...); link != "" {
			res.Fallback = link
		}
	}
	if res.Email != "" {
		res.Outcome = OutcomeFound
	}
	res.Duration = e.now().Sub(started)
	return res
}

// followUp tries the configured secondary pages in order.
func (e *Engine) followUp(ctx context.Context, t Target, landing string, logger *zap.Logger) (string, extract.Name) {
	visited := map[string]bool{t.URL: true}
	for _, needle := range e.cfg.FollowLinks {
		link := extract.FirstLink(landing, t.URL, needle)
		if link == "" || visited[link] {
			continue
		}
		visited[link] = true
		content, err := e.fetcher.Fetch(ctx, link)
		if err != nil {
			logger.Debug("Follow-up fetch failed", zap.Int("row", t.Row), zap.String("url", link), zap.Error(err))
			continue
		}
		if email, name := e.extractor.Extract(content); email != "" {
			return email, name
		}
	}
	return "", ""
}

func (e *Engine) handleWriteError(err error, row int, tracker *outcomeTracker, logger *zap.Logger) {
	var werr *WriteError
	if !errors.As(err, &werr) {
		logger.Error("Write failed", zap.Int("row", row), zap.Error(err))
		return
	}
	for _, r := range werr.Rows {
		tracker.set(r, OutcomeWriteError)
	}
	logger.Error("Write failed", zap.String("range", werr.Range), zap.Ints("rows", werr.Rows), zap.Error(werr.Err))
}

func (e *Engine) logTarget(logger *zap.Logger, res Result) {
	fields := []zap.Field{
		zap.Int("row", res.Row),
		zap.String("url", res.URL),
		zap.String("name", res.DisplayName),
		zap.String("outcome", string(res.Outcome)),
		zap.String("email", res.Email),
		zap.String("strategy", string(res.Strategy)),
		zap.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case OutcomeFetchError, OutcomeWriteError:
		fields = append(fields, zap.String("failed_stage", string(res.FailedStage)), zap.Error(res.Err))
		logger.Warn("Target failed", fields...)
	default:
		if res.Email == "" && res.Fallback != "" {
			fields = append(fields, zap.String("fallback", res.Fallback))
		}
		logger.Info("Target processed", fields...)
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.TS = e.now().UTC()
	evt.Profile = e.cfg.Profile
	e.emitter.Emit(evt)
}

func (e *Engine) emitRunEnd(runID uuid.UUID, summary Summary, start time.Time, err error) {
	evt := progress.Event{
		RunID: progress.UUIDToBytes(runID),
		Stage: progress.StageRunDone,
		Total: summary.Total,
		Found: summary.Found,
		Dur:   e.now().Sub(start),
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
	}
	e.emit(evt)
}

// outcomeTracker holds the final outcome per row; write failures reported
// after a row was logged overwrite its earlier outcome.
type outcomeTracker struct {
	mu       sync.Mutex
	outcomes map[int]Outcome
}

func newOutcomeTracker(n int) *outcomeTracker {
	return &outcomeTracker{outcomes: make(map[int]Outcome, n)}
}

func (t *outcomeTracker) set(row int, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcomes[row] == OutcomeWriteError {
		return
	}
	t.outcomes[row] = outcome
}

func (t *outcomeTracker) fill(s *Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, outcome := range t.outcomes {
		s.record(Result{Outcome: outcome})
	}
}

func containsRow(err error, row int) bool {
	var werr *WriteError
	if !errors.As(err, &werr) {
		return true
	}
	for _, r := range werr.Rows {
		if r == row {
			return true
		}
	}
	return false
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
