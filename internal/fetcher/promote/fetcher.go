package promote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Fetcher tries Static first and falls back to Headless when the static
// fetch fails or the detector flags the body.
type Fetcher struct {
	static   harvest.PageFetcher
	headless harvest.PageFetcher
	detector *Heuristic
	logger   *zap.Logger
}

// New builds a promoting fetcher; a nil headless fetcher disables promotion.
func New(static, headless harvest.PageFetcher, detector *Heuristic, logger *zap.Logger) *Fetcher {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{static: static, headless: headless, detector: detector, logger: logger}
}

// Fetch implements harvest.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.static.Fetch(ctx, url)
	if f.headless == nil {
		return body, err
	}
	reason := Reason("static_failed")
	if err == nil {
		if reason = f.detector.Decide(body); reason == ReasonNone {
			return body, nil
		}
	}
	if ctx.Err() != nil {
		return body, err
	}
	f.logger.Debug("Promoting fetch to headless", zap.String("url", url), zap.String("reason", string(reason)))
	rendered, herr := f.headless.Fetch(ctx, url)
	if herr == nil {
		return rendered, nil
	}
	if err == nil {
		f.logger.Debug("Headless render failed, using static body", zap.String("url", url), zap.Error(herr))
		return body, nil
	}
	return "", fmt.Errorf("static: %w; headless: %w", err, herr)
}
