package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"

	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/pkg/logger"
)

const (
	DefaultChainID       = "sandbox"
	DefaultMasterAccount = "test.near"
)

// DefaultMasterBalance funds the genesis account.
var DefaultMasterBalance = near.MustParseNEAR("1000000000")

// Built-in contract images. Deploying one of these byte strings installs the
// matching Go implementation on the account.
var (
	NFTSeriesCode   = []byte("sandbox:nft-series:v1")
	MarketplaceCode = []byte("sandbox:paras-marketplace:v1")
)

type block struct {
	height    uint64
	hash      string
	prevHash  string
	timestamp uint64
}

// Node is a single-process NEAR node. Every accepted transaction is applied
// to completion and sealed into its own block.
type Node struct {
	chainID string
	clock   func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	accounts  map[string]*accountRecord
	programs  map[string]program
	blocks    []block
	known     map[string]struct{}
	outcomes  map[string]*near.FinalExecutionOutcome
	receipts  uint64
	masterID  string
	masterKey *near.KeyPair
}

// Option customises a Node.
type Option func(*Node)

func WithChainID(id string) Option {
	return func(n *Node) { n.chainID = id }
}

// WithClock replaces the wall clock used for block timestamps.
func WithClock(clock func() time.Time) Option {
	return func(n *Node) { n.clock = clock }
}

// WithMasterAccount sets the genesis account and its full access key.
func WithMasterAccount(id string, kp *near.KeyPair) Option {
	return func(n *Node) {
		n.masterID = id
		n.masterKey = kp
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// New creates a node holding only the genesis account.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		chainID:  DefaultChainID,
		clock:    time.Now,
		accounts: make(map[string]*accountRecord),
		known:    make(map[string]struct{}),
		outcomes: make(map[string]*near.FinalExecutionOutcome),
		masterID: DefaultMasterAccount,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Named("sandbox")
	}
	if n.masterKey == nil {
		kp, err := near.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		n.masterKey = kp
	}
	n.programs = map[string]program{
		CodeHash(NFTSeriesCode):   newNFTSeries(),
		CodeHash(MarketplaceCode): newMarketplace(),
	}

	master := newAccountRecord()
	master.balance = DefaultMasterBalance
	master.keys[n.masterKey.PublicKey()] = &accessKey{permission: near.AccessKeyPermission{Enum: near.PermissionFullAccess}}
	n.accounts[n.masterID] = master
	n.seal(near.EmptyCodeHash)
	return n, nil
}

func (n *Node) ChainID() string { return n.chainID }

func (n *Node) MasterAccount() string { return n.masterID }

// MasterKey returns the genesis key; its String form is what
// guests_account_secret expects.
func (n *Node) MasterKey() *near.KeyPair { return n.masterKey }

// Height returns the latest block height.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head().height
}

// Accounts lists every account id in the ledger.
func (n *Node) Accounts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return sortedIDs(n.accounts)
}

func (n *Node) head() block { return n.blocks[len(n.blocks)-1] }

// seal appends a block. Timestamps strictly increase even when the clock
// stalls or goes back.
func (n *Node) seal(salt string) block {
	var prev block
	if len(n.blocks) > 0 {
		prev = n.head()
	}
	ts := uint64(n.clock().UnixNano())
	if ts <= prev.timestamp {
		ts = prev.timestamp + 1
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], prev.height+1)
	binary.LittleEndian.PutUint64(buf[8:], ts)
	sum := sha256.Sum256(append(append([]byte(prev.hash), buf[:]...), salt...))
	b := block{height: prev.height + 1, hash: base58.Encode(sum[:]), prevHash: prev.hash, timestamp: ts}
	n.blocks = append(n.blocks, b)
	n.known[b.hash] = struct{}{}
	return b
}

func (n *Node) nextReceiptID(seed string) string {
	n.receipts++
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n.receipts)
	sum := sha256.Sum256(append([]byte(seed), buf[:]...))
	return base58.Encode(sum[:])
}

// Handler exposes the node's JSON-RPC endpoint.
func (n *Node) Handler() http.Handler {
	return metrics.Instrument("sandbox_rpc", newRPCServer(n))
}

// Start listens on addr and serves until ctx is cancelled. It returns the
// node url, which is useful when addr asks for a random port.
func (n *Node) Start(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("sandbox server stopped", slog.Any("error", err))
		}
	}()
	url := "http://" + ln.Addr().String()
	n.logger.Info("sandbox node listening", slog.String("url", url), slog.String("master", n.masterID))
	return url, nil
}
