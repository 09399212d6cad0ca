// Package recovery persists spreadsheet writes that could not be delivered so
// an operator can replay them.
package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/hash/sha256"
	"github.com/JakeFAU/contact-harvester/internal/storage"
)

// Cell is one undelivered (range, value) pair.
type Cell struct {
	Range string `json:"range"`
	Value string `json:"value"`
}

// Dump is the JSON document written for a failed batch.
type Dump struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Cause     string    `json:"cause,omitempty"`
	Cells     []Cell    `json:"cells"`
}

// Dumper writes Dump documents under <prefix>/<run-id>/<timestamp>.json.
type Dumper struct {
	store  storage.BlobStore
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Dumper.
type Option func(*Dumper)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dumper) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPrefix overrides the default "recovery" prefix.
func WithPrefix(prefix string) Option {
	return func(d *Dumper) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// New builds a Dumper on top of store.
func New(store storage.BlobStore, logger *zap.Logger, opts ...Option) *Dumper {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dumper{
		store:  store,
		prefix: "recovery",
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dump serializes ranges and returns the URI of the stored document.
func (d *Dumper) Dump(ctx context.Context, runID string, ranges []harvest.ValueRange, cause error) (string, error) {
	if runID == "" {
		runID = "unknown"
	}
	doc := Dump{
		RunID:     runID,
		CreatedAt: d.now(),
		Cells:     make([]Cell, 0, len(ranges)),
	}
	if cause != nil {
		doc.Cause = cause.Error()
	}
	for _, r := range ranges {
		for _, row := range r.Values {
			for _, v := range row {
				doc.Cells = append(doc.Cells, Cell{Range: r.Range, Value: v})
			}
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal recovery dump: %w", err)
	}
	name := path.Join(d.prefix, runID, doc.CreatedAt.Format("20060102T150405.000000000Z")+".json")
	uri, err := d.store.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store recovery dump: %w", err)
	}
	d.logger.Info("Recovery dump written",
		zap.String("uri", uri),
		zap.Int("cells", len(doc.Cells)),
		zap.String("sha256", sha256.Fingerprint(data)),
	)
	return uri, nil
}
