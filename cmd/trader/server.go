package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/feeds"
	"solana-hype-trader/internal/hype"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/oracle"
	"solana-hype-trader/internal/risk"
	"solana-hype-trader/internal/solana"
	"solana-hype-trader/internal/storage"
)

const defaultSignalLimit = 50

// adminServer serves health, metrics, status and the admin endpoints.
type adminServer struct {
	control *control.Control
	breaker *risk.CircuitBreaker
	gate    *risk.PortfolioGate
	keys    *oracle.KeyRing
	ledger  storage.Ledger
	signals storage.SignalLog
	state   storage.StateStore
	hype    *hype.Aggregator
	market  *feeds.MarketCache
	funding *solana.Funding
	metrics http.Handler
	log     logrus.FieldLogger
	started time.Time
}

func newAdminServer(a *app, metrics http.Handler) *adminServer {
	return &adminServer{
		control: a.control,
		breaker: a.breaker,
		gate:    a.gate,
		keys:    a.keys,
		ledger:  a.stores.ledger,
		signals: a.stores.signals,
		state:   a.stores.state,
		hype:    a.signals.Hype,
		market:  a.signals.Market,
		funding: a.funding,
		metrics: metrics,
		log:     logging.Component(a.log, "admin"),
		started: time.Now(),
	}
}

func (s *adminServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /signals", s.handleSignals)
	mux.HandleFunc("GET /breaker", s.handleBreaker)
	mux.HandleFunc("POST /breaker/reset", s.handleBreakerReset)
	mux.HandleFunc("POST /breaker/override", s.handleBreakerOverride)
	mux.HandleFunc("GET /control", s.handleControl)
	mux.HandleFunc("POST /control", s.handleControlPatch)
	mux.HandleFunc("GET /oracle/keys", s.handleKeys)
	mux.HandleFunc("POST /oracle/keys/{index}", s.handleKeyToggle)
	return mux
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status         string             `json:"status"`
	Uptime         string             `json:"uptime"`
	DryRun         bool               `json:"dry_run"`
	OpenPositions  int                `json:"open_positions"`
	Invested       float64            `json:"invested"`
	ScaleDown      string             `json:"scale_down,omitempty"`
	Breaker        risk.BreakerStatus `json:"breaker"`
	HypeSymbols    []string           `json:"hype_symbols"`
	KnownAuthors   int                `json:"known_authors"`
	MarketSymbols  int                `json:"market_symbols"`
	OracleKeys     []oracle.KeyStatus `json:"oracle_keys"`
	ControlSources map[string]bool    `json:"sources"`
	Wallet         *solana.Funding    `json:"wallet,omitempty"`
}

func (s *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gate.Snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	var warn string
	if scale, reason, err := s.gate.ShouldScaleDown(r.Context()); err == nil && scale {
		warn = reason
	}
	st := s.control.State()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.started).Truncate(time.Second).String(),
		DryRun:         st.DryRun,
		OpenPositions:  snap.OpenPositions,
		Invested:       snap.Invested,
		ScaleDown:      warn,
		Breaker:        s.breaker.Status(),
		HypeSymbols:    s.hype.Symbols(),
		KnownAuthors:   s.hype.Authors().Len(),
		MarketSymbols:  s.market.Len(),
		OracleKeys:     s.keys.Status(),
		ControlSources: st.Sources,
		Wallet:         s.funding,
	})
}

func (s *adminServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	open, err := s.ledger.ListOpen(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if open == nil {
		open = []*domain.Position{}
	}
	writeJSON(w, http.StatusOK, open)
}

func (s *adminServer) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := defaultSignalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, http.StatusBadRequest, errBadParam("limit"))
			return
		}
		limit = n
	}
	recs, err := s.signals.Recent(r.Context(), r.URL.Query().Get("symbol"), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*domain.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *adminServer) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breaker.Status())
}

func (s *adminServer) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if err := s.breaker.Reset(r.Context()); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.breaker.Status())
}

func (s *adminServer) handleBreakerOverride(w http.ResponseWriter, r *http.Request) {
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, errBadParam("enabled"))
		return
	}
	if err := s.breaker.SetManualOverride(r.Context(), enabled); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.breaker.Status())
}

func (s *adminServer) handleControl(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.State())
}

func (s *adminServer) handleControlPatch(w http.ResponseWriter, r *http.Request) {
	var p control.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.control.Apply(r.Context(), p)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.log.WithFields(logrus.Fields{"dry_run": st.DryRun, "size_sol": st.SizeSOL, "size_usdc": st.SizeUSDC}).Info("control state updated")
	writeJSON(w, http.StatusOK, st)
}

func (s *adminServer) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keys.Status())
}

// handleKeyToggle enables or disables one oracle key: POST /oracle/keys/{index}?disabled=true.
func (s *adminServer) handleKeyToggle(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, errBadParam("index"))
		return
	}
	disabled, err := strconv.ParseBool(r.URL.Query().Get("disabled"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, errBadParam("disabled"))
		return
	}
	if err := s.keys.SetDisabled(idx, disabled); err != nil {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err := s.keys.Save(r.Context(), s.state); err != nil {
		s.log.WithError(err).Warn("save oracle key state")
	}
	writeJSON(w, http.StatusOK, s.keys.Status())
}

type errBadParam string

func (e errBadParam) Error() string { return "invalid or missing parameter: " + string(e) }

type errorResponse struct {
	Error string `json:"error"`
}

func (s *adminServer) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("admin request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
