// Package api exposes position snapshots, action controls and action
// submission over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wnt/farmdash/internal/action"
	"github.com/wnt/farmdash/internal/ledger"
	"github.com/wnt/farmdash/internal/models"
	"github.com/wnt/farmdash/internal/position"
	"github.com/wnt/farmdash/internal/quantity"
)

// ActionHistory reads the action audit log
type ActionHistory interface {
	RecentActions(ctx context.Context, positionID string, limit int) ([]models.ActionRecord, error)
}

// Config captures the dependencies of the server
type Config struct {
	Registry *position.Registry
	Machines map[string]*action.Machine
	History  ActionHistory
	Clock    ledger.Clock
	Logger   zerolog.Logger
}

// Server serves the dashboard API
type Server struct {
	registry *position.Registry
	machines map[string]*action.Machine
	history  ActionHistory
	clock    ledger.Clock
	logger   zerolog.Logger

	router http.Handler
}

// New constructs the server and its router
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = ledger.SystemClock{}
	}
	s := &Server{
		registry: cfg.Registry,
		machines: cfg.Machines,
		history:  cfg.History,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Health)

	r.Route("/positions", func(pr chi.Router) {
		pr.Get("/", s.ListPositions)
		pr.Route("/{id}", func(p chi.Router) {
			p.Get("/", s.GetPosition)
			p.Get("/controls", s.GetControls)
			p.Get("/max", s.GetMax)
			p.Get("/claim", s.GetClaimGate)
			p.Get("/approval", s.GetApproval)
			p.Get("/actions", s.ListActions)
			p.Post("/actions", s.SubmitAction)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Health reports liveness and how many positions have a snapshot
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"positions": len(s.registry.All()),
	})
}

// ListPositions returns every snapshot, or only staked ones with ?active=true
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.registry.All()
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		positions = s.registry.Active()
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition returns the latest snapshot of one position
func (s *Server) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.machines[id]; !ok {
		writeError(w, http.StatusNotFound, "unknown position")
		return
	}
	snap, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "snapshot not built yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetControls derives the action controls for the tab, dialog and input in the query.
// With dialog=zap, source names the token being zapped.
func (s *Server) GetControls(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	view := action.View{
		Tab:   action.ParseTab(q.Get("tab")),
		Input: q.Get("input"),
	}
	if q.Get("dialog") == "zap" {
		view = view.OpenZap(q.Get("source"))
	}
	writeJSON(w, http.StatusOK, m.Controls(view))
}

// GetMax returns the exact amount a Max press fills in for the tab
func (s *Server) GetMax(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	amount, known := m.Max(action.ParseTab(r.URL.Query().Get("tab")))
	resp := map[string]interface{}{"known": known, "max": amount}
	if !known {
		resp["max"] = quantity.Placeholder
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetClaimGate evaluates the claim gate at the current time
func (s *Server) GetClaimGate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot().ClaimState(s.clock.Now()))
}

// GetApproval returns the approval state and the transitions it went through
func (s *Server) GetApproval(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   m.Approval(),
		"history": m.ApprovalHistory(),
	})
}

// ListActions returns the recent action history of a position
func (s *Server) ListActions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.machine(w, r); !ok {
		return
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, []models.ActionRecord{})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	rows, err := s.history.RecentActions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load action history")
		writeError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type ticketResponse struct {
	*action.Ticket
	Pending bool `json:"pending"`
}

// SubmitAction validates and dispatches an action
func (s *Server) SubmitAction(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}

	var req action.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Kind == action.KindUnknown {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ticket, err := m.Submit(r.Context(), req)
	if err != nil {
		event := s.logger.Warn()
		if action.IsLocalRejection(err) {
			event = s.logger.Debug()
		}
		event.Err(err).Str("request_id", req.ID).Str("position_id", chi.URLParam(r, "id")).Msg("Action rejected")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ticketResponse{Ticket: ticket, Pending: ticket.Pending()})
}

func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*action.Machine, bool) {
	m, ok := s.machines[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown position")
	}
	return m, ok
}

// statusFor maps action errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, quantity.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, action.ErrActionInFlight), errors.Is(err, action.ErrActionDisabled):
		return http.StatusConflict
	case errors.Is(err, action.ErrActionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
