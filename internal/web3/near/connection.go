package near

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/pkg/logger"
)

// OutcomeEvent is published for every transaction an account of the
// connection sends.
type OutcomeEvent struct {
	Network    string
	SignerID   string
	ReceiverID string
	Hash       string
	Outcome    Outcome
	Err        error
	At         time.Time
}

// Connection binds a network configuration, an RPC client and a key store.
type Connection struct {
	cfg    web3.NetworkConfig
	rpc    *RPCClient
	keys   KeyStore
	gas    uint64
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]*Account

	feed  event.FeedOf[OutcomeEvent]
	scope event.SubscriptionScope
}

var _ web3.Client = (*Connection)(nil)

type connectOptions struct {
	rpcOpts []RPCOption
	logger  *slog.Logger
}

// ConnectOption customises Connect.
type ConnectOption func(*connectOptions)

func WithRPCOptions(opts ...RPCOption) ConnectOption {
	return func(o *connectOptions) { o.rpcOpts = append(o.rpcOpts, opts...) }
}

func WithLogger(l *slog.Logger) ConnectOption {
	return func(o *connectOptions) { o.logger = l }
}

// Connect validates cfg and prepares a connection. No request is made; use
// Ping to check the node is reachable.
func Connect(ctx context.Context, cfg web3.NetworkConfig, keys KeyStore, opts ...ConnectOption) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.NodeURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "network "+cfg.NetworkID+" has no node url")
	}
	gas, err := cfg.GasLimit()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = NewInMemoryKeyStore()
	}
	o := connectOptions{logger: logger.Named("near")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("near")
	}
	l := o.logger.With(slog.String("network", cfg.NetworkID))
	rpcOpts := append([]RPCOption{WithRPCLogger(l)}, o.rpcOpts...)
	return &Connection{
		cfg:      cfg,
		rpc:      NewRPCClient(cfg.NodeURL, rpcOpts...),
		keys:     keys,
		gas:      gas,
		logger:   l,
		accounts: make(map[string]*Account),
	}, nil
}

func (c *Connection) Network() web3.NetworkConfig { return c.cfg }

func (c *Connection) RPC() *RPCClient { return c.rpc }

func (c *Connection) KeyStore() KeyStore { return c.keys }

// Gas returns the default gas ceiling of a function call.
func (c *Connection) Gas() uint64 { return c.gas }

// Account returns the cached handle for id.
func (c *Connection) Account(id string) *Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.accounts[id]; ok {
		return acc
	}
	acc := newAccount(c, id)
	c.accounts[id] = acc
	return acc
}

// Ping checks the node answers status.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.rpc.Status(ctx)
	return err
}

func (c *Connection) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	status, err := c.rpc.Status(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return web3.ChainSnapshot{
		ChainID:     status.ChainID,
		BlockHeight: status.SyncInfo.LatestBlockHeight,
		BlockHash:   status.SyncInfo.LatestBlockHash,
		Syncing:     status.SyncInfo.Syncing,
		Notes:       c.cfg.Description,
	}, nil
}

// ViewFunction runs a view method; no key is needed.
func (c *Connection) ViewFunction(ctx context.Context, contractID, method string, args, out any) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}
	result, err := c.rpc.CallFunction(ctx, contractID, method, encoded)
	if err != nil {
		return err
	}
	if out == nil || len(result.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Result, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode "+method+" result")
	}
	return nil
}

// SubscribeOutcomes delivers an OutcomeEvent per sent transaction. Senders
// block until every subscriber has received the event, so ch must be
// drained.
func (c *Connection) SubscribeOutcomes(ch chan<- OutcomeEvent) event.Subscription {
	return c.scope.Track(c.feed.Subscribe(ch))
}

func (c *Connection) publish(ev OutcomeEvent) {
	c.feed.Send(ev)
}

// Close ends all outcome subscriptions.
func (c *Connection) Close() {
	c.scope.Close()
}
