package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"NFTMarket-Harness/internal/config"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/pkg/logger"
)

// Registry hands out one NEAR connection per network. Connections are made on
// first use, so a network table may list endpoints that are never reached.
type Registry struct {
	mu             sync.Mutex
	table          *web3.NetworkTable
	keys           near.KeyStore
	session        *near.InMemoryKeyStore
	defaultNetwork string
	connectOpts    []near.ConnectOption
	conns          map[string]*near.Connection
	logger         *slog.Logger
}

// Option customises the registry.
type Option func(*Registry)

// WithConnectOptions appends options passed to every near.Connect call.
func WithConnectOptions(opts ...near.ConnectOption) Option {
	return func(r *Registry) { r.connectOpts = append(r.connectOpts, opts...) }
}

// WithKeyStore replaces the credentials store that backs the session keys.
func WithKeyStore(keys near.KeyStore) Option {
	return func(r *Registry) {
		if keys != nil {
			r.keys = keys
		}
	}
}

// NewRegistry loads the network table named by cfg and prepares the key
// store: keys generated during a run live in memory in front of the
// credentials directory.
func NewRegistry(cfg config.Web3Config, opts ...Option) (*Registry, error) {
	table, err := web3.LoadNetworkTable(cfg.NetworksFile)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		table:          table,
		keys:           near.NewDefaultKeyStore(cfg.CredentialsDir),
		session:        near.NewInMemoryKeyStore(),
		defaultNetwork: strings.TrimSpace(cfg.DefaultNetwork),
		conns:          make(map[string]*near.Connection),
		logger:         logger.Named("provider"),
	}
	rpcOpts := []near.RPCOption{near.WithRetries(cfg.Retries())}
	if timeout := cfg.Timeout(); timeout > 0 {
		rpcOpts = append(rpcOpts, near.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	r.connectOpts = []near.ConnectOption{near.WithRPCOptions(rpcOpts...)}
	for _, opt := range opts {
		opt(r)
	}

	if r.defaultNetwork == "" {
		names := table.Names()
		if len(names) == 0 {
			return nil, errors.New("no networks configured")
		}
		r.defaultNetwork = names[0]
	}
	if _, err := table.Network(r.defaultNetwork); err != nil {
		return nil, fmt.Errorf("default network %s not configured: %w", r.defaultNetwork, err)
	}
	return r, nil
}

// KeyStore returns the store connections sign with. SetKey writes to the
// in-memory session store, never to the credentials directory.
func (r *Registry) KeyStore() near.KeyStore {
	return near.NewMergeKeyStore(r.session, r.keys)
}

// DefaultNetwork returns the name used when a caller passes none.
func (r *Registry) DefaultNetwork() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
}

// Connection returns the cached connection for name, dialling it on first
// use. An empty name selects the default network.
func (r *Registry) Connection(ctx context.Context, name string) (*near.Connection, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "network registry is not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultNetwork
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	cfg, err := r.table.Network(name)
	if err != nil {
		return nil, err
	}
	conn, err := near.Connect(ctx, cfg, r.KeyStore(), r.connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect network %s: %w", name, err)
	}
	r.conns[name] = conn
	r.logger.Info("network connected", slog.String("network", name), slog.String("node_url", cfg.NodeURL))
	return conn, nil
}

// DefaultClient returns the client of the default network.
func (r *Registry) DefaultClient(ctx context.Context) (web3.Client, error) {
	return r.Client(ctx, "")
}

// Client returns the client identified by name.
func (r *Registry) Client(ctx context.Context, name string) (web3.Client, error) {
	conn, err := r.Connection(ctx, name)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Network returns the configuration registered under name.
func (r *Registry) Network(name string) (web3.NetworkConfig, error) {
	if strings.TrimSpace(name) == "" {
		name = r.defaultNetwork
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Network(name)
}

// Networks lists every configured network in name order.
func (r *Registry) Networks() []web3.NetworkConfig {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := r.table.Names()
	out := make([]web3.NetworkConfig, 0, len(names))
	for _, name := range names {
		cfg, err := r.table.Network(name)
		if err != nil {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out
}

// Attach registers a network whose endpoint is only known at runtime, such as
// an in-process sandbox, together with the key of its master account. A
// cached connection for the same name is dropped.
func (r *Registry) Attach(name string, cfg web3.NetworkConfig, master *near.KeyPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.NetworkID == "" {
		cfg.NetworkID = name
	}
	r.table.Set(name, cfg)
	if conn, ok := r.conns[name]; ok {
		conn.Close()
		delete(r.conns, name)
	}
	if master != nil && cfg.MasterAccount != "" {
		if err := r.session.SetKey(cfg.NetworkID, cfg.MasterAccount, master); err != nil {
			return err
		}
	}
	r.logger.Info("network attached", slog.String("network", name), slog.String("node_url", cfg.NodeURL))
	return nil
}

// Close releases all connections managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, conn := range r.conns {
		conn.Close()
		delete(r.conns, name)
	}
}
