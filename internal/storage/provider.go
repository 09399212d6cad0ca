// Package storage defines the blob store abstraction used for recovery dumps
// and credential files, and selects a backend from configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/contact-harvester/internal/storage/gcs"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
)

// BlobStore writes opaque objects and returns a URI for each.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config selects and configures a BlobStore backend.
type Config struct {
	// Backend is one of local, gcs or memory.
	Backend string `mapstructure:"backend"`
	// BaseDir is the local backend root.
	BaseDir string `mapstructure:"base_dir"`
	// Bucket is the gcs backend bucket.
	Bucket string `mapstructure:"bucket"`
}

// New builds the configured backend. The returned close function releases
// any client the backend opened.
func New(ctx context.Context, cfg Config) (BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("local blob store: %w", err)
		}
		return store, noop, nil
	case "memory":
		return memory.NewBlobStore(), noop, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}
