package scenario

import (
	"context"
	"log/slog"

	"NFTMarket-Harness/internal/web3/provider"
	"NFTMarket-Harness/pkg/logger"
)

// Executor runs scenarios on networks from a provider registry.
type Executor struct {
	registry *provider.Registry
	code     map[string]ContractCode
	logger   *slog.Logger
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithContractCode makes the executor deploy code on network when a contract
// account is missing.
func WithContractCode(network string, code ContractCode) ExecutorOption {
	return func(e *Executor) { e.code[network] = code }
}

// WithExecutorLogger replaces the named package logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExecutor(registry *provider.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, code: make(map[string]ContractCode), logger: logger.Named("scenario")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the named scenario. The error covers setup problems only;
// step failures are reported in the returned report.
func (e *Executor) Execute(ctx context.Context, name, network string, params map[string]string) (*Report, error) {
	s, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if network == "" {
		network = e.registry.DefaultNetwork()
	}
	conn, err := e.registry.Connection(ctx, network)
	if err != nil {
		return nil, err
	}
	env, err := NewEnv(conn, e.code[network], params, e.logger.With(slog.String("network", network)))
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, env), nil
}
