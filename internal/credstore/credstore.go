// Package credstore keeps the service-account key and the spreadsheet
// identifier in the storage directory, where the control panel uploads them
// and harvest jobs read them.
package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/hash/sha256"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
)

// File names inside the storage directory.
const (
	ServiceAccountFile = "service_account.json"
	SheetIDFile        = "sheet_id.txt"
)

// Environment variables materialized by Bootstrap.
const (
	EnvServiceJSON = "HARVESTER_SERVICE_JSON_CONTENT"
	EnvSheetID     = "HARVESTER_SHEET_ID"
)

// MaxServiceAccountBytes bounds an uploaded key file.
const MaxServiceAccountBytes = 64 << 10

// ErrInvalidKey is returned for uploads that are not a JSON object.
var ErrInvalidKey = errors.New("service account file is not valid JSON")

// Store reads and writes credential files under one directory.
type Store struct {
	blobs  *local.BlobStore
	logger *zap.Logger
}

// New opens dir, creating it when needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	blobs, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return &Store{blobs: blobs, logger: logger}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.blobs.BaseDir()
}

// Bootstrap writes the key and sheet identifier found in the environment.
// Unset or empty variables leave existing files alone.
func (s *Store) Bootstrap(ctx context.Context, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if content, ok := lookup(EnvServiceJSON); ok && strings.TrimSpace(content) != "" {
		if _, err := s.SaveServiceAccount(ctx, strings.NewReader(content)); err != nil {
			return fmt.Errorf("materialize %s: %w", EnvServiceJSON, err)
		}
		s.logger.Info("Service account written from environment")
	}
	if id, ok := lookup(EnvSheetID); ok && strings.TrimSpace(id) != "" {
		if err := s.SaveSheetID(ctx, id); err != nil {
			return fmt.Errorf("materialize %s: %w", EnvSheetID, err)
		}
		s.logger.Info("Sheet ID written from environment")
	}
	return nil
}

// SaveServiceAccount stores the key file and returns its path.
func (s *Store) SaveServiceAccount(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxServiceAccountBytes+1))
	if err != nil {
		return "", fmt.Errorf("read service account: %w", err)
	}
	if len(data) > MaxServiceAccountBytes {
		return "", fmt.Errorf("service account file exceeds %d bytes", MaxServiceAccountBytes)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", ErrInvalidKey
	}
	if _, err := s.blobs.PutObject(ctx, ServiceAccountFile, "application/json", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write service account: %w", err)
	}
	s.logger.Info("Service account stored", zap.String("sha256", sha256.Fingerprint(data)))
	return s.ServiceAccountPath(), nil
}

// ServiceAccountPath returns where the key file lives.
func (s *Store) ServiceAccountPath() string {
	path, _ := s.blobs.Path(ServiceAccountFile)
	return path
}

// HasServiceAccount reports whether a key file has been stored.
func (s *Store) HasServiceAccount() bool {
	_, err := os.Stat(s.ServiceAccountPath())
	return err == nil
}

// SaveSheetID stores the trimmed spreadsheet identifier.
func (s *Store) SaveSheetID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sheet id is empty")
	}
	if _, err := s.blobs.PutObject(ctx, SheetIDFile, "text/plain", strings.NewReader(id)); err != nil {
		return fmt.Errorf("write sheet id: %w", err)
	}
	return nil
}

// SheetID returns the stored identifier, or "" when none was saved.
func (s *Store) SheetID(ctx context.Context) (string, error) {
	data, err := s.blobs.GetObject(ctx, SheetIDFile)
	if errors.Is(err, local.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read sheet id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
