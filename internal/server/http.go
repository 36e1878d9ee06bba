package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PredictionLedger/internal/ingestion"
	"PredictionLedger/internal/instruction"
	"PredictionLedger/internal/keys"
	"PredictionLedger/internal/observability"
	"PredictionLedger/internal/persistence"
	"PredictionLedger/internal/projection"
	"PredictionLedger/internal/query"
)

// HTTPServer serves the read API, admin API, health probes, and metrics.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	deps       *Deps
}

// Deps holds all dependencies needed by the HTTP handlers.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.Service
	AdminInjector *ingestion.AdminInjector
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func NewHTTPServer(addr string, deps *Deps) *HTTPServer {
	return &HTTPServer{addr: addr, deps: deps}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	if s.deps.Metrics != nil {
		r.Use(s.metricsMiddleware)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/platform", s.handleGetPlatform)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{eventID}", s.handleGetEvent)
		r.Get("/events/{eventID}/bets", s.handleListEventBets)
		r.Get("/events/{eventID}/bets/{participant}", s.handleGetBet)
		r.Get("/accounts/{address}", s.handleGetAccount)
		r.Get("/users/{participant}/stats", s.handleGetUserStats)
		r.Get("/users/{participant}/balances", s.handleGetUserBalances)
		r.Get("/users/{participant}/transfers", s.handleGetTransferHistory)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/deposit", s.handleInjectDeposit)
			r.Post("/withdraw-fees", s.handleInjectWithdrawFees)
			r.Post("/rebuild-projections", s.handleRebuildProjections)
			r.Get("/integrity", s.handleVerifyIntegrity)
			r.Get("/log-info", s.handleLogInfo)
		})
	})

	r.Get("/healthz", s.deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", s.deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// metricsMiddleware records request counts, latency, and error codes per
// route pattern.
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(ww.Status())

		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if ww.Status() >= 400 {
			s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, status).Inc()
		}
	})
}

// ============================================================================
// Query handlers
// ============================================================================

func (s *HTTPServer) handleGetPlatform(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.QueryService.GetPlatform(r.Context())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)

	var status *int16
	if raw := r.URL.Query().Get("status"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status: %q", raw))
			return
		}
		st := int16(v)
		status = &st
	}

	var beforeID *uint64
	if raw := r.URL.Query().Get("before"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before cursor: %q", raw))
			return
		}
		beforeID = &v
	}

	events, err := s.deps.QueryService.ListEvents(r.Context(), status, limit, beforeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *HTTPServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	evt, err := s.deps.QueryService.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *HTTPServer) handleListEventBets(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := queryInt(r, "limit", 100, 500)

	bets, err := s.deps.QueryService.ListEventBets(r.Context(), eventID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bets": bets})
}

func (s *HTTPServer) handleGetBet(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	participant, err := pathAddress(r, "participant")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bet, err := s.deps.QueryService.GetBet(r.Context(), eventID, participant)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// handleGetAccount serves the raw account image for any derived address.
// The image is the authoritative record; clients decode it with the
// account codec.
func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := s.deps.QueryService.GetAccount(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleGetUserStats(w http.ResponseWriter, r *http.Request) {
	participant, err := pathAddress(r, "participant")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := s.deps.QueryService.GetUserStats(r.Context(), participant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleGetUserBalances(w http.ResponseWriter, r *http.Request) {
	participant, err := pathAddress(r, "participant")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	balances, err := s.deps.QueryService.GetUserBalances(r.Context(), participant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *HTTPServer) handleGetTransferHistory(w http.ResponseWriter, r *http.Request) {
	participant, err := pathAddress(r, "participant")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := queryInt(r, "limit", 100, 500)

	var beforeSeq *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before cursor: %q", raw))
			return
		}
		beforeSeq = &v
	}

	entries, err := s.deps.QueryService.GetTransferHistory(r.Context(), participant, limit, beforeSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": entries})
}

// ============================================================================
// Admin handlers
// ============================================================================

type injectRequest struct {
	Address keys.Address `json:"address"`
	Token   string       `json:"token"`
	Amount  uint64       `json:"amount"`
}

func (s *HTTPServer) handleInjectDeposit(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := parseToken(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.AdminInjector.InjectDeposit(r.Context(), req.Address, token, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleInjectWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := parseToken(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.AdminInjector.InjectWithdrawFees(r.Context(), req.Address, token, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"last_sequence": latestSeq})
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathEventID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "eventID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id: %q", raw)
	}
	return id, nil
}

func pathAddress(r *http.Request, param string) (keys.Address, error) {
	return keys.ParseAddress(chi.URLParam(r, param))
}

func queryInt(r *http.Request, param string, def, max int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func parseToken(s string) (instruction.Token, error) {
	switch s {
	case "doom":
		return instruction.TokenDoom, nil
	case "life":
		return instruction.TokenLife, nil
	default:
		return 0, fmt.Errorf("invalid token: %q (want doom or life)", s)
	}
}
