// Package sheets implements the tabular store on top of the Google Sheets
// v4 API. Every call waits on a shared token bucket so runs stay inside the
// per-user write quota.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
)

const valueInputOption = "RAW"

// Config holds the connection settings for one spreadsheet.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string
	// Endpoint overrides the API base URL (emulators and tests).
	Endpoint string
	// RequestsPerSecond and Burst size the shared limiter; zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Store reads and writes one spreadsheet.
type Store struct {
	svc     *sheetsapi.Service
	id      string
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New authenticates with a service-account file and returns a Store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	opts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: cfg.Burst})
	return NewWithService(svc, cfg.SpreadsheetID, limiter, logger), nil
}

// NewWithService wraps an existing service; limiter may be nil.
func NewWithService(svc *sheetsapi.Service, spreadsheetID string, limiter *ratelimit.Limiter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{svc: svc, id: spreadsheetID, limiter: limiter, logger: logger}
}

// SpreadsheetID returns the spreadsheet this store addresses.
func (s *Store) SpreadsheetID() string {
	return s.id
}

func (s *Store) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx, "sheets:"+s.id)
}

// Read returns the cells of rng as strings. Trailing empty cells are omitted
// by the API, so rows may be ragged.
func (s *Store) Read(ctx context.Context, rng string) ([][]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, rng).Context(ctx).Do()
	metrics.ObserveStoreCall("read", err)
	if err != nil {
		return nil, fmt.Errorf("sheets get %s: %w", rng, err)
	}
	return fromAPI(resp.Values), nil
}

// UpdateRange overwrites rng with values.
func (s *Store) UpdateRange(ctx context.Context, rng string, values [][]string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, rng, &sheetsapi.ValueRange{
		Range:  rng,
		Values: toAPI(values),
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	metrics.ObserveStoreCall("update", err)
	if err != nil {
		return fmt.Errorf("sheets update %s: %w", rng, err)
	}
	return nil
}

// BatchUpdate writes several ranges in one request.
func (s *Store) BatchUpdate(ctx context.Context, ranges []harvest.ValueRange) error {
	if len(ranges) == 0 {
		return nil
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	data := make([]*sheetsapi.ValueRange, 0, len(ranges))
	for _, r := range ranges {
		data = append(data, &sheetsapi.ValueRange{Range: r.Range, Values: toAPI(r.Values)})
	}
	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.id, &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             data,
	}).Context(ctx).Do()
	metrics.ObserveStoreCall("batch_update", err)
	if err != nil {
		return fmt.Errorf("sheets batch update of %d ranges: %w", len(ranges), err)
	}
	return nil
}

// ReplaceSheet deletes title if it exists, recreates it sized for values and
// writes values starting at A1.
func (s *Store) ReplaceSheet(ctx context.Context, title string, values [][]string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	doc, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties").Context(ctx).Do()
	metrics.ObserveStoreCall("get", err)
	if err != nil {
		return fmt.Errorf("sheets get spreadsheet: %w", err)
	}

	var requests []*sheetsapi.Request
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			requests = append(requests, &sheetsapi.Request{DeleteSheet: &sheetsapi.DeleteSheetRequest{
				SheetId:         sh.Properties.SheetId,
				ForceSendFields: []string{"SheetId"},
			}})
			s.logger.Info("Deleting existing sheet", zap.String("sheet", title))
		}
	}
	width := 26
	for _, row := range values {
		width = max(width, len(row))
	}
	requests = append(requests, &sheetsapi.Request{AddSheet: &sheetsapi.AddSheetRequest{
		Properties: &sheetsapi.SheetProperties{
			Title: title,
			GridProperties: &sheetsapi.GridProperties{
				RowCount:    int64(len(values) + 10),
				ColumnCount: int64(width),
			},
		},
	}})

	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	metrics.ObserveStoreCall("structure", err)
	if err != nil {
		return fmt.Errorf("sheets recreate %q: %w", title, err)
	}
	if len(values) == 0 {
		return nil
	}
	return s.UpdateRange(ctx, harvest.CellRange(title, 0, 1), values)
}

func toAPI(values [][]string) [][]interface{} {
	out := make([][]interface{}, len(values))
	for i, row := range values {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func fromAPI(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}
