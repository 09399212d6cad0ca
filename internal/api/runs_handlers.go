package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/store"
)

const (
	defaultTargetsLimit = 100
	maxTargetsLimit     = 1000
	ledgerTimeout       = 3 * time.Second
)

// RunsHandler exposes read-only views of the results ledger.
type RunsHandler struct {
	ledger  store.ResultLedger
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the ledger and logger.
func NewRunsHandler(ledger store.ResultLedger, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		ledger:  ledger,
		timeout: ledgerTimeout,
		logger:  logger,
	}
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}}, 400 for a
// malformed ID, 404 when the ledger reports store.ErrNotFound and 503 when no
// ledger is configured.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "results ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.ledger.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListTargets handles GET /v1/runs/{run_id}/targets?limit=&offset= and
// returns {"targets": [...]} ordered by sheet row.
func (h *RunsHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "results ledger unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultTargetsLimit, maxTargetsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	targets, err := h.ledger.ListTargets(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list targets failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": toTargetDTOs(targets)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		Profile:    run.Profile,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Total:      run.Total,
		Found:      run.Found,
		Error:      run.ErrorMessage,
	}
}

func toTargetDTOs(in []store.TargetRecord) []targetDTO {
	out := make([]targetDTO, 0, len(in))
	for _, t := range in {
		out = append(out, targetDTO{
			Row:        t.Row,
			URL:        t.URL,
			Site:       t.Site,
			Name:       t.Name,
			Email:      t.Email,
			Strategy:   t.Strategy,
			Outcome:    t.Outcome,
			Note:       t.Note,
			DurationMS: t.DurationMS,
			RecordedAt: t.RecordedAt,
		})
	}
	return out
}

type runDTO struct {
	ID         string     `json:"id"`
	Profile    string     `json:"profile"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Found      int        `json:"found"`
	Error      *string    `json:"error,omitempty"`
}

type targetDTO struct {
	Row        int       `json:"row"`
	URL        string    `json:"url"`
	Site       string    `json:"site,omitempty"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Outcome    string    `json:"outcome"`
	Note       string    `json:"note,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}
