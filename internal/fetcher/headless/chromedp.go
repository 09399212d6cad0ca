// Package headless renders pages in headless Chrome through chromedp. Each
// fetch opens its own tab on a shared browser and closes it on return.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
)

const fetcherName = "chromedp"

var errClosed = errors.New("headless fetcher closed")

// Content selects what Fetch returns.
type Content string

// Supported content modes.
const (
	// ContentHTML returns the serialized document.
	ContentHTML Content = "html"
	// ContentText returns document.body.innerText.
	ContentText Content = "text"
)

// Defaults applied by NewChromedp.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultSecondaryWait     = 15 * time.Second
	DefaultSettleDelay       = 4 * time.Second
	DefaultViewportWidth     = 1200
	DefaultViewportHeight    = 800
	// DefaultUserAgent is a current desktop Chrome string.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	Headers           map[string]string
	NavigationTimeout time.Duration
	// SecondarySelector is clicked after load when it becomes visible, e.g.
	// the "About" tab of a profile page. Empty disables the click.
	SecondarySelector string
	SecondaryWait     time.Duration
	SettleDelay       time.Duration
	ViewportWidth     int64
	ViewportHeight    int64
	Content           Content
	// ExecPath overrides the Chrome binary; empty uses the default lookup.
	ExecPath string
	// ShowBrowser runs Chrome with a visible window.
	ShowBrowser bool
	Limiter     *ratelimit.Limiter
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SecondaryWait <= 0 {
		c.SecondaryWait = DefaultSecondaryWait
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = DefaultViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Content == "" {
		c.Content = ContentHTML
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Fetcher implements harvest.PageFetcher using chromedp and headless Chrome.
// One browser process serves every Fetch; each call gets its own tab.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	startOnce     sync.Once
	startErr      error
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher. Chrome is started once, by the
// first Fetch, and stopped by Close.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	switch cfg.Content {
	case "", ContentHTML, ContentText:
	default:
		return nil, fmt.Errorf("unknown content mode %q", cfg.Content)
	}
	cfg = cfg.withDefaults()
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.ShowBrowser {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down. Fetch calls made afterwards fail.
func (f *Fetcher) Close() {
	f.startOnce.Do(func() { f.startErr = errClosed })
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.allocCancel()
}

// startBrowser launches Chrome and its first tab on the allocator. Tabs
// opened from f.browser attach to this process instead of spawning another.
func (f *Fetcher) startBrowser() error {
	f.startOnce.Do(func() {
		browserCtx, cancel := chromedp.NewContext(f.allocator)
		if err := chromedp.Run(browserCtx); err != nil {
			cancel()
			f.startErr = fmt.Errorf("chromedp start browser: %w", err)
			return
		}
		f.browser, f.browserCancel = browserCtx, cancel
		f.cfg.Logger.Debug("Headless browser started")
	})
	return f.startErr
}

// Fetch navigates to rawURL in a fresh tab, optionally follows the secondary
// selector, and returns the rendered content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := f.acquire(ctx); err != nil {
		return "", err
	}
	defer f.release()
	if err := f.cfg.Limiter.WaitURL(ctx, rawURL); err != nil {
		return "", fmt.Errorf("headless rate limit wait: %w", err)
	}

	if err := f.startBrowser(); err != nil {
		metrics.ObserveFetch(fetcherName, "error", 0)
		return "", err
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	// Allocate the tab on the undecorated context so the timeouts below
	// only bound individual steps.
	if err := chromedp.Run(tabCtx); err != nil {
		metrics.ObserveFetch(fetcherName, "error", 0)
		return "", fmt.Errorf("chromedp open tab: %w", err)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	if err := f.navigate(tabCtx, rawURL); err != nil {
		metrics.ObserveFetch(fetcherName, "error", 0)
		return "", err
	}
	f.followSecondary(tabCtx, rawURL)

	content, err := f.read(tabCtx)
	if err != nil {
		metrics.ObserveFetch(fetcherName, "error", 0)
		return "", err
	}
	status, _ := meta.snapshot()
	metrics.ObserveFetch(fetcherName, statusClass(status), len(content))
	return content, nil
}

func (f *Fetcher) navigate(tabCtx context.Context, rawURL string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.EmulateViewport(f.cfg.ViewportWidth, f.cfg.ViewportHeight),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("chromedp navigate %s: %w", rawURL, err)
	}
	return nil
}

// followSecondary clicks the secondary selector when it shows up. Any
// failure leaves the primary page loaded.
func (f *Fetcher) followSecondary(tabCtx context.Context, rawURL string) {
	if f.cfg.SecondarySelector == "" {
		return
	}
	waitCtx, cancel := context.WithTimeout(tabCtx, f.cfg.SecondaryWait)
	defer cancel()
	err := chromedp.Run(waitCtx,
		chromedp.WaitVisible(f.cfg.SecondarySelector, chromedp.ByQuery),
		chromedp.Click(f.cfg.SecondarySelector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		f.cfg.Logger.Debug("Secondary navigation skipped",
			zap.String("url", rawURL), zap.String("selector", f.cfg.SecondarySelector), zap.Error(err))
		return
	}
	if f.cfg.SettleDelay > 0 {
		_ = chromedp.Run(tabCtx, chromedp.Sleep(f.cfg.SettleDelay))
	}
}

func (f *Fetcher) read(tabCtx context.Context) (string, error) {
	readCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	var content string
	var action chromedp.Action
	if f.cfg.Content == ContentText {
		action = chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &content)
	} else {
		action = chromedp.OuterHTML("html", &content, chromedp.ByQuery)
	}
	if err := chromedp.Run(readCtx, action); err != nil {
		return "", fmt.Errorf("chromedp read content: %w", err)
	}
	return content, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

// responseMeta records the main document response of a tab.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "unknown"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func toNetworkHeaders(h map[string]string) network.Headers {
	headers := network.Headers{}
	for key, value := range h {
		headers[key] = value
	}
	return headers
}
