package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"oraclecheck/chain"
	"oraclecheck/checks"
	"oraclecheck/decoder"
	"oraclecheck/deployments"
	"oraclecheck/directory"
	"oraclecheck/oracle"
	"oraclecheck/payload"
	"oraclecheck/services/oracleverifyd/storage"
	"oraclecheck/verify"
	"oraclecheck/whitelist"
)

const maxBodyBytes = 64 << 10

// Verifier runs verification sessions.
type Verifier interface {
	Submit(ctx context.Context, sessionID string, req verify.Request) (verify.Ticket, error)
	Snapshot(sessionID string) (verify.Snapshot, error)
	Watch(ctx context.Context, sessionID string) (<-chan verify.Snapshot, error)
}

// FeedCatalog lists whitelisted feeds.
type FeedCatalog interface {
	All(chainID uint64) []whitelist.FeedDescriptor
}

// ConfigurationSource recovers the configuration of a deployed oracle.
type ConfigurationSource interface {
	Configurations(ctx context.Context, chainID uint64, oracle common.Address) (deployments.Recovered, error)
}

// MarketDirectory returns the markets using an oracle or a token pair.
type MarketDirectory interface {
	OracleMarkets(ctx context.Context, oracle common.Address, chainID uint64) (directory.Oracle, error)
	MarketsForPair(ctx context.Context, chainID uint64, collateral, loan common.Address) ([]directory.Market, error)
}

// UserIdentifier maps a client location onto a metering identity.
type UserIdentifier interface {
	Identify(ctx context.Context, location string) (string, error)
}

// RunHistory lists finished runs of a session.
type RunHistory interface {
	RecentRuns(ctx context.Context, sessionID string, limit int) ([]storage.Run, error)
}

// Deps are the collaborators the handlers call. Users and Runs are optional.
type Deps struct {
	Verifier       Verifier
	Whitelist      FeedCatalog
	Configurations ConfigurationSource
	Directory      MarketDirectory
	Users          UserIdentifier
	Runs           RunHistory
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
}

// Server exposes the verification API.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	limiter *rateLimiter
	router  http.Handler
}

// New constructs the server.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	if deps.Whitelist == nil || deps.Configurations == nil || deps.Directory == nil {
		return nil, fmt.Errorf("whitelist, configuration source and directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.limiter = newRateLimiter(cfg.RateLimit, logger)
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.middleware)
		api.Get("/whitelist/{chainID}", s.handleWhitelist)
		api.Post("/verifications", s.handleSubmit)
		api.Get("/verifications/{session}", s.handleSnapshot)
		api.Get("/verifications/{session}/stream", s.handleStream)
		api.Get("/verifications/{session}/history", s.handleHistory)
		api.Get("/oracles/{chainID}/{address}/configurations", s.handleConfigurations)
		api.Get("/oracles/{chainID}/{address}/warnings", s.handleWarnings)
		api.Get("/markets/{chainID}", s.handleMarkets)
		api.Post("/payloads", s.handlePayload)
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.router, "oracleverifyd"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chainId": chainID,
		"feeds":   s.deps.Whitelist.All(chainID),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body verificationRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := s.buildRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := strings.TrimSpace(body.Session)
	if session == "" {
		session = uuid.NewString()
	} else if _, err := uuid.Parse(session); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: session must be a uuid", errBadRequest))
		return
	}
	if s.deps.Users != nil {
		if user, err := s.deps.Users.Identify(r.Context(), clientID(r)); err == nil {
			req.UserID = user
		} else {
			s.logger.Debug("metering identity unavailable", slog.Any("error", err))
		}
	}
	ticket, err := s.deps.Verifier.Submit(r.Context(), session, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, verify.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	w.Header().Set("Location", "/v1/verifications/"+ticket.Session)
	writeJSON(w, http.StatusAccepted, ticket)
}

func (s *Server) buildRequest(body verificationRequest) (verify.Request, error) {
	if _, err := chain.LookupNetwork(body.ChainID); err != nil {
		return verify.Request{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	cfg, err := body.Configuration.toConfiguration()
	if err != nil {
		return verify.Request{}, err
	}
	collateral, err := body.Collateral.toAsset("collateral")
	if err != nil {
		return verify.Request{}, err
	}
	loan, err := body.Loan.toAsset("loan")
	if err != nil {
		return verify.Request{}, err
	}
	threshold, err := body.threshold()
	if err != nil {
		return verify.Request{}, err
	}
	return verify.Request{
		ChainID:          body.ChainID,
		Config:           cfg,
		Collateral:       collateral,
		Loan:             loan,
		ThresholdPercent: threshold,
	}, nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Verifier.Snapshot(chi.URLParam(r, "session"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, errors.New("run history disabled"))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be within 1..100", errBadRequest))
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.RecentRuns(r.Context(), chi.URLParam(r, "session"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleConfigurations(w http.ResponseWriter, r *http.Request) {
	chainID, addr, err := oracleParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recovered, err := s.deps.Configurations.Configurations(r.Context(), chainID, addr)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrCreationNotFound):
			writeError(w, http.StatusNotFound, err, oracle.ErrMissingTransactionHash)
		case errors.Is(err, decoder.ErrNoConfiguration),
			errors.Is(err, decoder.ErrMalformed),
			errors.Is(err, deployments.ErrConfigurationMismatch):
			writeError(w, http.StatusUnprocessableEntity, err, oracle.ErrDecoding)
		default:
			writeError(w, http.StatusBadGateway, err, oracle.ErrFetch)
		}
		return
	}
	out := configurationsResponse{
		Creation:       recovered.Creation,
		Configurations: make([]configurationJSON, 0, len(recovered.Configurations)),
		OnChain:        onChainFrom(recovered.OnChain),
	}
	for _, cfg := range recovered.Configurations {
		out.Configurations = append(out.Configurations, configurationFrom(cfg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	chainID, addr, err := oracleParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collateral := strings.TrimSpace(r.URL.Query().Get("collateral"))
	loan := strings.TrimSpace(r.URL.Query().Get("loan"))
	if collateral == "" || loan == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: collateral and loan symbols required", errBadRequest))
		return
	}
	record, err := s.deps.Directory.OracleMarkets(r.Context(), addr, chainID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeJSON(w, http.StatusOK, checks.Warnings(nil, collateral, loan))
			return
		}
		writeError(w, http.StatusBadGateway, err, oracle.ErrFetch)
		return
	}
	writeJSON(w, http.StatusOK, checks.Warnings(record.Markets, collateral, loan))
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collateral := strings.TrimSpace(r.URL.Query().Get("collateral"))
	loan := strings.TrimSpace(r.URL.Query().Get("loan"))
	if !common.IsHexAddress(collateral) || !common.IsHexAddress(loan) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: collateral and loan addresses required", errBadRequest))
		return
	}
	markets, err := s.deps.Directory.MarketsForPair(r.Context(), chainID, common.HexToAddress(collateral), common.HexToAddress(loan))
	if err != nil {
		writeError(w, http.StatusBadGateway, err, oracle.ErrFetch)
		return
	}
	if markets == nil {
		markets = []directory.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	var body payloadRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(strings.TrimSpace(body.Safe)) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: safe address invalid", errBadRequest))
		return
	}
	cfg, err := body.Configuration.toConfiguration()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := payload.SafeBatch(cfg, body.ChainID, common.HexToAddress(strings.TrimSpace(body.Safe)))
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrInvalidConfiguration):
			writeError(w, http.StatusUnprocessableEntity, err, oracle.ErrInvalidConfigurationKind)
		case errors.Is(err, chain.ErrUnsupportedChain), errors.Is(err, payload.ErrInvalidSafe):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func chainParam(r *http.Request) (uint64, error) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chain id", errBadRequest)
	}
	if _, err := chain.LookupNetwork(chainID); err != nil {
		return 0, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return chainID, nil
}

func oracleParams(r *http.Request) (uint64, common.Address, error) {
	chainID, err := chainParam(r)
	if err != nil {
		return 0, common.Address{}, err
	}
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return 0, common.Address{}, fmt.Errorf("%w: invalid oracle address", errBadRequest)
	}
	return chainID, common.HexToAddress(raw), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid payload: %w", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, verify.ErrUnknownSession), errors.Is(err, deployments.ErrNotIndexed):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, kinds ...oracle.ErrorKind) {
	writeJSON(w, status, errorBody{Error: err.Error(), Kinds: kinds})
}
