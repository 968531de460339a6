// Package verify runs the four oracle checks of a verification session
// concurrently and publishes their progress.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"oraclecheck/deployments"
	"oraclecheck/directory"
	"oraclecheck/observability"
	"oraclecheck/oracle"
	"oraclecheck/pricing"
	"oraclecheck/route"
	"oraclecheck/whitelist"
)

// DefaultRunTimeout bounds a single verification run.
const DefaultRunTimeout = 30 * time.Second

var (
	// ErrUnknownSession is returned for sessions that never submitted a run.
	ErrUnknownSession = errors.New("unknown verification session")
	// ErrInvalidRequest is returned by Submit for requests it cannot run.
	ErrInvalidRequest = errors.New("invalid verification request")
)

// Request is one verification of an oracle configuration against a market.
type Request struct {
	ChainID    uint64
	Config     oracle.Configuration
	Collateral oracle.Asset
	Loan       oracle.Asset
	// ThresholdPercent overrides the service-wide deviation threshold.
	ThresholdPercent *math.LegacyDec
	// UserID is the metering identity; empty skips metering.
	UserID string
}

// VaultFeeds resolves the vault legs of a configuration into edges.
type VaultFeeds interface {
	Feeds(ctx context.Context, chainID uint64, cfg oracle.Configuration) []whitelist.FeedDescriptor
}

// Directory is the subset of the market directory the checks use.
type Directory interface {
	Assets(ctx context.Context, chainID uint64) ([]directory.Asset, error)
	AssetPrices(ctx context.Context, chainID uint64, collateralSymbol, loanSymbol string) (map[string]directory.MarketAsset, error)
}

// Duplicates finds an existing deployment equivalent to a configuration.
type Duplicates interface {
	FindDuplicate(ctx context.Context, chainID uint64, cfg oracle.Configuration) (deployments.Deployment, bool, error)
}

// QueryRecorder meters submitted verifications.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, userID string) error
}

// Deps are the collaborators of a Service. NewVaults is called once per run
// so vault lookups are never shared between runs.
type Deps struct {
	Whitelist  route.FeedLookup
	NewVaults  func() VaultFeeds
	Reader     pricing.LiveReader
	Directory  Directory
	Duplicates Duplicates
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithThreshold sets the default deviation threshold in percent.
func WithThreshold(percent math.LegacyDec) Option {
	return func(s *Service) {
		if !percent.IsNil() && percent.IsPositive() {
			p := percent
			s.threshold = &p
		}
	}
}

// WithMetering records every submission against the request's user.
func WithMetering(rec QueryRecorder) Option {
	return func(s *Service) {
		s.metering = rec
	}
}

// WithCompletionHook is invoked once per run that finishes without being
// superseded.
func WithCompletionHook(fn func(context.Context, Snapshot)) Option {
	return func(s *Service) {
		s.onComplete = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type checkFunc func(ctx context.Context, req Request) CheckState

// Service owns the sessions and runs their checks.
type Service struct {
	deps       Deps
	logger     *slog.Logger
	tracer     trace.Tracer
	timeout    time.Duration
	threshold  *math.LegacyDec
	metering   QueryRecorder
	onComplete func(context.Context, Snapshot)
	now        func() time.Time
	checks     map[string]checkFunc

	mu     sync.Mutex
	boards map[string]*board
}

// NewService constructs a Service.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps:    deps,
		logger:  slog.Default(),
		tracer:  otel.Tracer("oraclecheck/verify"),
		timeout: DefaultRunTimeout,
		now:     time.Now,
		boards:  make(map[string]*board),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.checks = map[string]checkFunc{
		CheckRoute:     s.routeCheck,
		CheckPrice:     s.priceCheck,
		CheckDecimals:  s.decimalsCheck,
		CheckDuplicate: s.duplicateCheck,
	}
	return s
}

func (s *Service) board(session string, create bool) (*board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[session]
	if !ok && create {
		b = newBoard(session)
		s.boards[session] = b
		ok = true
	}
	return b, ok
}

// Submit supersedes any run in progress for sessionID and starts a new one.
// All four checks are reset to loading before any of them starts. The run is
// detached from ctx cancellation but keeps its values.
func (s *Service) Submit(ctx context.Context, sessionID string, req Request) (Ticket, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Ticket{}, fmt.Errorf("%w: session required", ErrInvalidRequest)
	}
	if req.ChainID == 0 {
		return Ticket{}, fmt.Errorf("%w: chain id required", ErrInvalidRequest)
	}
	b, _ := s.board(sessionID, true)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	gen, superseded := b.reset(req, cancel, s.now())
	if superseded {
		observability.Verifier().RecordSuperseded()
		s.logger.Debug("verification superseded", slog.String("session", sessionID), slog.Uint64("generation", gen-1))
	}
	if s.metering != nil && req.UserID != "" {
		if err := s.metering.RecordQuery(runCtx, req.UserID); err != nil {
			s.logger.Debug("metering failed", slog.String("session", sessionID), slog.Any("error", err))
		}
	}

	var wg sync.WaitGroup
	for _, name := range Checks {
		wg.Add(1)
		go func(name string, fn checkFunc) {
			defer wg.Done()
			state := s.run(runCtx, name, fn, req)
			if !b.complete(gen, name, state, s.now()) {
				s.logger.Debug("dropped stale check result",
					slog.String("session", sessionID),
					slog.String("check", name),
					slog.Uint64("generation", gen))
			}
		}(name, s.checks[name])
	}
	go func() {
		wg.Wait()
		cancel()
		snap, ok := b.finished(gen)
		if !ok || s.onComplete == nil {
			return
		}
		s.onComplete(context.WithoutCancel(ctx), snap)
	}()

	s.logger.Info("verification submitted",
		slog.String("session", sessionID),
		slog.Uint64("chain_id", req.ChainID),
		slog.Uint64("generation", gen))
	return Ticket{Session: sessionID, Generation: gen}, nil
}

// run executes one check, converting a panic into a failed state.
func (s *Service) run(ctx context.Context, name string, fn checkFunc, req Request) (state CheckState) {
	ctx, span := s.tracer.Start(ctx, "verify."+name, trace.WithAttributes(
		attribute.Int64("chain_id", int64(req.ChainID)),
	))
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("check panicked",
				slog.String("check", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			state = failed(oracle.ErrInternal)
		}
		if state.Failed {
			span.SetStatus(codes.Error, "check failed")
		}
		span.SetAttributes(attribute.String("verdict", string(state.Verdict)))
		span.End()
		observability.Verifier().RecordCheck(name, string(state.Verdict), s.now().Sub(start))
	}()
	return fn(ctx, req)
}

// Snapshot returns the current board of sessionID.
func (s *Service) Snapshot(sessionID string) (Snapshot, error) {
	b, ok := s.board(sessionID, false)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return b.snapshot(), nil
}

// Watch streams board changes of sessionID until ctx is done. The current
// board is delivered first. A slow reader only ever sees the latest board.
func (s *Service) Watch(ctx context.Context, sessionID string) (<-chan Snapshot, error) {
	b, ok := s.board(sessionID, false)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	ch := b.subscribe()
	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch, nil
}

// Prune forgets idle sessions whose last activity is older than maxIdle and
// returns how many were removed.
func (s *Service) Prune(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, b := range s.boards {
		if b.idleSince(cutoff) {
			b.stop()
			delete(s.boards, id)
			removed++
		}
	}
	return removed
}

// Close cancels every run in progress.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.boards {
		b.stop()
	}
}
