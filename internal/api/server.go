package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/internal/run"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/pkg/logger"
)

// NetworkLister lists the networks runs may target. provider.Registry
// satisfies it.
type NetworkLister interface {
	Networks() []web3.NetworkConfig
	DefaultNetwork() string
}

// Server exposes the REST API for submitting and inspecting runs.
type Server struct {
	addr     string
	runs     *run.Service
	networks NetworkLister
	shutdown time.Duration
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

func NewServer(addr string, runs *run.Service, networks NetworkLister, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		runs:     runs,
		networks: networks,
		shutdown: 5 * time.Second,
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/v1/runs", metrics.Instrument("runs_create", http.HandlerFunc(s.handleCreateRun))).Methods(http.MethodPost)
	r.Handle("/api/v1/runs", metrics.Instrument("runs_list", http.HandlerFunc(s.handleListRuns))).Methods(http.MethodGet)
	r.Handle("/api/v1/runs/stats", metrics.Instrument("runs_stats", http.HandlerFunc(s.handleRunStats))).Methods(http.MethodGet)
	r.Handle("/api/v1/runs/{id}", metrics.Instrument("runs_detail", http.HandlerFunc(s.handleRunDetail))).Methods(http.MethodGet)
	r.Handle("/api/v1/scenarios", metrics.Instrument("scenarios", http.HandlerFunc(s.handleScenarios))).Methods(http.MethodGet)
	r.Handle("/api/v1/networks", metrics.Instrument("networks", http.HandlerFunc(s.handleNetworks))).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Code: string(xerrors.CodeNotFound)})
	})
	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api listening", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "run service is not initialized"})
		return
	}
	var req run.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "decode request body: " + err.Error(), Code: string(xerrors.CodeInvalidArgument)})
		return
	}
	created, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "run service is not initialized"})
		return
	}
	opts, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "run service is not initialized"})
		return
	}
	opts, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "run service is not initialized"})
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	found, err := s.runs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type scenarioInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	all := scenario.All()
	out := make([]scenarioInfo, 0, len(all))
	for _, sc := range all {
		out = append(out, scenarioInfo{Name: sc.Name, Description: sc.Description, Steps: sc.Steps()})
	}
	writeJSON(w, http.StatusOK, out)
}

type networksBody struct {
	Default  string               `json:"default"`
	Networks []web3.NetworkConfig `json:"networks"`
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	if s.networks == nil {
		writeJSON(w, http.StatusOK, networksBody{Networks: []web3.NetworkConfig{}})
		return
	}
	writeJSON(w, http.StatusOK, networksBody{
		Default:  s.networks.DefaultNetwork(),
		Networks: s.networks.Networks(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.runs != nil {
		stats, err := s.runs.Stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		body["runs"] = stats
	}
	writeJSON(w, http.StatusOK, body)
}

// parseListQuery reads limit, offset, status (comma separated), scenario,
// network, order=asc and has_report.
func parseListQuery(r *http.Request) ([]run.ListOption, error) {
	q := r.URL.Query()
	var opts []run.ListOption
	for _, key := range []string{"limit", "offset"} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid "+key+": "+raw)
		}
		if key == "limit" {
			opts = append(opts, run.WithLimit(n))
		} else {
			opts = append(opts, run.WithOffset(n))
		}
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			status := run.Status(strings.TrimSpace(part))
			if !run.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid status: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if v := q.Get("scenario"); v != "" {
		opts = append(opts, run.WithScenario(v))
	}
	if v := q.Get("network"); v != "" {
		opts = append(opts, run.WithNetwork(v))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
	}
	if raw := q.Get("has_report"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid has_report: "+raw)
		}
		opts = append(opts, run.WithReportPresence(b))
	}
	return opts, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err), slog.String("code", string(code)))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: string(code)})
}

// statusFor maps the outermost error code to an HTTP status.
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case run.CodeRunNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case run.CodeRunValidation, xerrors.CodeInvalidArgument, scenario.CodeUnknownScenario:
		return http.StatusBadRequest
	case run.CodeRunConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure, run.CodeRunPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext refuses requests once the root context is done.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
