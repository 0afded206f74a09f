package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/pkg/logger"
)

// NetworkResolver validates submitted network names. provider.Registry
// satisfies it.
type NetworkResolver interface {
	Network(name string) (web3.NetworkConfig, error)
	DefaultNetwork() string
}

// Service creates and looks up runs.
type Service struct {
	store      Store
	producer   Producer
	networks   NetworkResolver
	maxRetries int
}

// NewService builds a Service. With nil networks any non-empty network name
// is accepted.
func NewService(store Store, producer Producer, networks NetworkResolver, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, networks: networks, maxRetries: maxRetries}
}

// Submit stores a new run and publishes it. Resubmitting a known ID returns
// the existing run.
func (s *Service) Submit(ctx context.Context, req Request) (*Run, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run service is not initialized")
	}
	sc, err := scenario.Lookup(req.Scenario)
	if err != nil {
		return nil, xerrors.Wrap(CodeRunValidation, err, "validate scenario",
			xerrors.WithMetadata("scenario", req.Scenario))
	}
	network, err := s.resolveNetwork(req.Network)
	if err != nil {
		return nil, err
	}

	runID := strings.TrimSpace(req.ID)
	if runID != "" {
		existing, err := s.store.Get(ctx, runID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRunNotFound) {
			return nil, err
		}
	} else {
		runID = uuid.NewString()
	}

	r := &Run{
		ID:         runID,
		Scenario:   sc.Name,
		Network:    network,
		Params:     maps.Clone(req.Params),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if stdErrors.Is(err, ErrRunConflict) {
			if existing, getErr := s.store.Get(ctx, runID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, runID); err != nil {
		logger.L().Error("publish run failed", slog.Any("error", err), slog.String("run_id", runID))
		wrapped := xerrors.Wrap(CodeRunPublish, err, "publish run")
		_ = s.store.MarkFailed(ctx, runID, StatusFailed, CodeRunPublish, wrapped.Error(), nil)
		return nil, wrapped
	}
	logger.Audit().Info("run queued",
		slog.String("run_id", runID),
		slog.String("scenario", r.Scenario),
		slog.String("network", r.Network),
		slog.Int("max_retries", r.MaxRetries),
	)
	return r, nil
}

func (s *Service) resolveNetwork(name string) (string, error) {
	name = strings.TrimSpace(name)
	if s.networks == nil {
		if name == "" {
			return "", xerrors.New(CodeRunValidation, "network is required")
		}
		return name, nil
	}
	if name == "" {
		name = s.networks.DefaultNetwork()
	}
	if _, err := s.networks.Network(name); err != nil {
		return "", xerrors.Wrap(CodeRunValidation, err, "validate network",
			xerrors.WithMetadata("network", name))
	}
	return name, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run store is not initialized")
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "run store is not initialized")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

func (s *Service) Stats(ctx context.Context, opts ...ListOption) (RunStats, error) {
	if s.store == nil {
		return RunStats{}, xerrors.New(xerrors.CodeInitializationFailure, "run store is not initialized")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close closes the store and the producer.
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted polls until the run is settled or ctx ends. An
// inconclusive run with no retries left counts as settled.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status.Terminal() || (r.Status == StatusInconclusive && r.Attempts >= r.MaxRetries) {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
