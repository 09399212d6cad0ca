package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/contact-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/contact-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/contact-harvester/internal/fetcher/promote"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/sheets"
	"github.com/JakeFAU/contact-harvester/internal/storage/xlsx"
)

func noopClose() error { return nil }

// defaultStore picks the backend named by sheets.backend.
func (a *App) defaultStore(ctx context.Context, target StoreTarget, logger *zap.Logger) (harvest.Store, func() error, error) {
	switch a.cfg.Sheets.Backend {
	case config.BackendMemory:
		return a.memory, noopClose, nil
	case config.BackendXLSX:
		book, err := xlsx.Open(a.cfg.XLSX.Path)
		if err != nil {
			return nil, noopClose, err
		}
		return book, book.Close, nil
	default:
		store, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:     target.SpreadsheetID,
			CredentialsFile:   target.CredentialsFile,
			Endpoint:          a.cfg.Sheets.Endpoint,
			RequestsPerSecond: a.cfg.Sheets.RequestsPerSecond,
			Burst:             a.cfg.Sheets.Burst,
		}, logger.Named("sheets"))
		if err != nil {
			return nil, noopClose, err
		}
		return store, noopClose, nil
	}
}

// defaultFetcher builds the static, headless or promoting fetcher a profile
// asks for. Chrome is only started for profiles that need it.
func (a *App) defaultFetcher(profile config.ProfileConfig, logger *zap.Logger) (harvest.PageFetcher, func(), error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		Limiter:       a.limiter,
	})

	switch profile.Fetcher {
	case config.FetcherStatic:
		return static, func() {}, nil
	case config.FetcherHeadless:
		browser, err := a.newHeadless(headless.Content(a.cfg.Headless.Content), logger)
		if err != nil {
			return nil, func() {}, err
		}
		return browser, browser.Close, nil
	case config.FetcherPromote:
		// Promoted pages are searched with the same strategies as static
		// ones, so the renderer must return markup.
		browser, err := a.newHeadless(headless.ContentHTML, logger)
		if err != nil {
			return nil, func() {}, err
		}
		detector := promote.NewHeuristic(a.cfg.HTTP.PromotionThreshold)
		return promote.New(static, browser, detector, logger.Named("promote")), browser.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown fetcher %q", profile.Fetcher)
	}
}

func (a *App) newHeadless(content headless.Content, logger *zap.Logger) (*headless.Fetcher, error) {
	h := a.cfg.Headless
	userAgent := h.UserAgent
	if userAgent == "" {
		userAgent = headless.DefaultUserAgent
	}
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       h.MaxParallel,
		UserAgent:         userAgent,
		NavigationTimeout: time.Duration(h.NavTimeoutSec) * time.Second,
		SecondarySelector: h.SecondarySelector,
		SecondaryWait:     time.Duration(h.SecondaryWaitSec) * time.Second,
		SettleDelay:       time.Duration(h.SettleMs) * time.Millisecond,
		Content:           content,
		ExecPath:          h.ExecPath,
		ShowBrowser:       h.ShowBrowser,
		Limiter:           a.limiter,
		Logger:            logger.Named("headless"),
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	return browser, nil
}
