package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
)

type pageMap map[string]string

func (p pageMap) Fetch(_ context.Context, url string) (string, error) {
	body, ok := p[url]
	if !ok {
		return "", errors.New("connection refused")
	}
	return body, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *recordingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) stages() []progress.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Stage, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Stage)
	}
	return out
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.StorageDir = t.TempDir()
	cfg.Sheets.Backend = config.BackendMemory
	cfg.Recovery.Backend = "memory"
	cfg.Website.DelayMinMs, cfg.Website.DelayMaxMs = 0, 0
	cfg.Social.DelayMinMs, cfg.Social.DelayMaxMs = 0, 0
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := New(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return a
}

func roster() [][]string {
	return [][]string{
		{"Name", "Business Website", "Facebook Link", "Business Email"},
		{"Acme", "acme.com", "", ""},
		{"Beta", "beta.io", "https://facebook.com/beta", ""},
		{"Gamma", "", "", ""},
	}
}

func TestRunWebsiteProfileAgainstMemoryStore(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	pages := pageMap{
		"http://acme.com": `<html><a href="mailto:Info@Acme.com?subject=hi">mail</a></html>`,
		"http://beta.io":  `<html><body>nothing here</body></html>`,
	}
	a := newTestApp(t, testConfig(t),
		WithSinks(sink),
		WithFetcherFactory(func(config.ProfileConfig, *zap.Logger) (harvest.PageFetcher, func(), error) {
			return pages, func() {}, nil
		}),
	)
	a.MemoryStore().SetSheet("Sheet1", roster())

	summary, err := a.RunProfile(context.Background(), config.ProfileWebsite, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Found)
	require.Equal(t, 1, summary.NotFound)

	grid, ok := a.MemoryStore().Sheet("Sheet1")
	require.True(t, ok)
	require.Equal(t, "info@acme.com", grid[1][3])
	require.Equal(t, "https://facebook.com/beta", grid[2][2])
	require.Len(t, grid[2], 4)
	require.Empty(t, grid[2][3])

	filtered, err := a.RunFilter(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, harvest.FilterSummary{Scanned: 3, Copied: 1}, filtered)
	emails, ok := a.MemoryStore().Sheet(harvest.DefaultFilterSheet)
	require.True(t, ok)
	require.Len(t, emails, 2)
	require.Equal(t, "Acme", emails[1][0])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	stages := sink.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestRunProfileRequiresSheetID(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sheets.Backend = config.BackendSheets
	opened := false
	a := newTestApp(t, cfg, WithStoreFactory(func(context.Context, StoreTarget, *zap.Logger) (harvest.Store, func() error, error) {
		opened = true
		return nil, noopClose, errors.New("unexpected")
	}))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err := a.RunProfile(context.Background(), config.ProfileSocial, nil)
	require.ErrorIs(t, err, ErrSheetIDNotSet)
	_, err = a.RunFilter(context.Background(), nil)
	require.ErrorIs(t, err, ErrSheetIDNotSet)
	require.False(t, opened)
}

func TestSavedSheetIDAndKeyReachStoreFactory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sheets.Backend = config.BackendSheets
	grid := memory.NewSheetStore()
	grid.SetSheet("Sheet1", roster())

	var got StoreTarget
	a := newTestApp(t, cfg, WithStoreFactory(func(_ context.Context, target StoreTarget, _ *zap.Logger) (harvest.Store, func() error, error) {
		got = target
		return grid, noopClose, nil
	}))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx := context.Background()
	require.NoError(t, a.Credentials().SaveSheetID(ctx, "sheet-xyz"))
	_, err := a.Credentials().SaveServiceAccount(ctx, strings.NewReader(`{"type":"service_account"}`))
	require.NoError(t, err)

	_, err = a.RunFilter(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "sheet-xyz", got.SpreadsheetID)
	require.Equal(t, a.Credentials().ServiceAccountPath(), got.CredentialsFile)
}

func TestRunProfileRejectsUnknownProfile(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	_, err := a.RunProfile(context.Background(), "linkedin", nil)
	require.ErrorContains(t, err, "unknown profile")
}

func TestDefaultFetcherSelection(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	for _, kind := range []string{config.FetcherStatic, config.FetcherHeadless, config.FetcherPromote} {
		profile := cfg.Website
		profile.Fetcher = kind
		f, closeFn, err := a.defaultFetcher(profile, zap.NewNop())
		require.NoError(t, err, kind)
		require.NotNil(t, f, kind)
		closeFn()
	}
	_, _, err := a.defaultFetcher(config.ProfileConfig{Fetcher: "curl"}, zap.NewNop())
	require.Error(t, err)
}
