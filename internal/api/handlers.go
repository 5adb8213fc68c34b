package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coinpulse/market-data-service/internal/cache"
	"github.com/coinpulse/market-data-service/internal/collector"
	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/gaps"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/internal/scheduler"
)

// Control is the trigger/status surface exposed by the scheduler.
type Control interface {
	TriggerManual(mode models.CollectionMode, start time.Time, symbols []string) error
	Status() scheduler.Status
}

// RunSource exposes orchestrator state for the status endpoint.
type RunSource interface {
	Status() models.CollectionStatus
	Summary(symbol string) (*models.CollectionSummary, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db      *database.DB
	control Control
	runs    RunSource
	latest  *cache.LatestPrices
}

// NewHandler creates a new Handler. latest may be nil when the cache is
// disabled.
func NewHandler(db *database.DB, control Control, runs RunSource, latest *cache.LatestPrices) *Handler {
	return &Handler{
		db:      db,
		control: control,
		runs:    runs,
		latest:  latest,
	}
}

type triggerRequest struct {
	Mode      string   `json:"mode"`
	StartDate string   `json:"start_date,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
}

// TriggerCollection handles POST /collect/trigger. A run already in
// progress yields 409; the trigger is not queued.
func (h *Handler) TriggerCollection(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mode := models.CollectionMode(req.Mode)
	if !mode.Valid() {
		http.Error(w, "mode must be one of backward, forward, gapfill", http.StatusBadRequest)
		return
	}

	var start time.Time
	if req.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			http.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = parsed.UTC()
	}

	if err := h.control.TriggerManual(mode, start, req.Symbols); err != nil {
		switch {
		case errors.Is(err, collector.ErrAlreadyRunning):
			http.Error(w, "collection already running", http.StatusConflict)
		case errors.Is(err, gaps.ErrInvalidWindow):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"mode":   req.Mode,
	})
}

// CollectionStatus handles GET /collect/status. The snapshot always
// carries the last result's tallies so callers can tell "nothing was
// due" apart from "collection attempted and failed."
func (h *Handler) CollectionStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler":  h.control.Status(),
		"collection": h.runs.Status(),
	})
}

// GetSymbols handles GET /symbols.
func (h *Handler) GetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.db.GetActiveSymbols()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, symbols)
}

// GetPrices handles GET /symbols/{symbol}/prices?from=&to=. The range is
// half-open [from, to) and returned in timestamp order.
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	from, err := parseTimeParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() || !to.After(from) {
		http.Error(w, "from must be set and before to", http.StatusBadRequest)
		return
	}

	prices, err := h.db.GetPriceRange(symbol, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, prices)
}

// GetLatestPrice handles GET /symbols/{symbol}/latest, reading through
// the cache when available.
func (h *Handler) GetLatestPrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if h.latest != nil {
		if p, err := h.latest.GetLatest(r.Context(), symbol); err == nil {
			respondJSON(w, http.StatusOK, p)
			return
		}
	}

	p, err := h.db.GetLatestPrice(symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GetSummary handles GET /symbols/{symbol}/summary, the completeness
// diagnostic.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	summary, err := h.runs.Summary(symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339")
	}
	return t.UTC(), nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
