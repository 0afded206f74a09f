package sandbox

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/pkg/logger"
)

const (
	nftID    = "nft.test.near"
	marketID = "market.test.near"
)

type harness struct {
	t    *testing.T
	ctx  context.Context
	node *Node
	keys *near.InMemoryKeyStore
	conn *near.Connection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	node, err := New(WithLogger(logger.Discard()))
	require.NoError(t, err)
	srv := httptest.NewServer(node.Handler())
	t.Cleanup(srv.Close)

	keys := near.NewInMemoryKeyStore()
	require.NoError(t, keys.SetKey(DefaultChainID, node.MasterAccount(), node.MasterKey()))
	cfg := web3.NetworkConfig{NetworkID: DefaultChainID, NodeURL: srv.URL, Gas: web3.DefaultGas}
	conn, err := near.Connect(context.Background(), cfg, keys,
		near.WithLogger(logger.Discard()),
		near.WithRPCOptions(near.WithRetries(0), near.WithRPCLogger(logger.Discard())))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return &harness{t: t, ctx: context.Background(), node: node, keys: keys, conn: conn}
}

func (h *harness) master() *near.Account { return h.conn.Account(h.node.MasterAccount()) }

// account creates a funded sub-account of the master account.
func (h *harness) account(id, amount string) *near.Account {
	h.t.Helper()
	kp, err := near.GenerateKeyPair()
	require.NoError(h.t, err)
	_, err = h.master().CreateAccount(h.ctx, id, kp.PublicKey(), near.MustParseNEAR(amount))
	require.NoError(h.t, err)
	require.NoError(h.t, h.keys.SetKey(DefaultChainID, id, kp))
	return h.conn.Account(id)
}

func (h *harness) call(from *near.Account, contract, method string, args any, deposit near.Amount) (*near.FinalExecutionOutcome, error) {
	return from.FunctionCall(h.ctx, near.FunctionCallRequest{ContractID: contract, Method: method, Args: args, Deposit: deposit})
}

func (h *harness) mustCall(from *near.Account, contract, method string, args any, deposit near.Amount) *near.FinalExecutionOutcome {
	h.t.Helper()
	out, err := h.call(from, contract, method, args, deposit)
	require.NoError(h.t, err, "%s.%s", contract, method)
	return out
}

func (h *harness) view(contract, method string, args, out any) error {
	return h.conn.ViewFunction(h.ctx, contract, method, args, out)
}

func (h *harness) balance(id string) near.Amount {
	h.t.Helper()
	amount, err := h.conn.Account(id).Balance(h.ctx)
	require.NoError(h.t, err)
	return amount
}

// deploy creates id, installs code and initialises it.
func (h *harness) deploy(id string, code []byte, init string, args any) *near.Account {
	h.t.Helper()
	acc := h.account(id, "50")
	_, err := acc.DeployContract(h.ctx, code)
	require.NoError(h.t, err)
	h.mustCall(acc, id, init, args, near.Amount{})
	return acc
}

func TestStatusReportsHead(t *testing.T) {
	h := newHarness(t)

	snap, err := h.conn.FetchChainSnapshot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultChainID, snap.ChainID)
	assert.Equal(t, h.node.Height(), snap.BlockHeight)
	assert.NotEmpty(t, snap.BlockHash)
}

func TestEveryTransactionSealsABlock(t *testing.T) {
	h := newHarness(t)
	before := h.node.Height()

	h.account("alice.test.near", "10")

	assert.Equal(t, before+1, h.node.Height())
	assert.Contains(t, h.node.Accounts(), "alice.test.near")
}

func TestCreateAccountAndTransfer(t *testing.T) {
	h := newHarness(t)
	alice := h.account("alice.test.near", "10")
	h.account("bob.test.near", "1")

	assert.Equal(t, 0, h.balance("alice.test.near").Cmp(near.MustParseNEAR("10")))

	_, err := alice.SendMoney(h.ctx, "bob.test.near", near.MustParseNEAR("2"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.balance("bob.test.near").Cmp(near.MustParseNEAR("3")))
	assert.Negative(t, h.balance("alice.test.near").Cmp(near.MustParseNEAR("8")))
}

func TestCreateExistingAccountIsRejectedAndRefunded(t *testing.T) {
	h := newHarness(t)
	h.account("alice.test.near", "10")
	before := h.balance(h.node.MasterAccount())

	kp, err := near.GenerateKeyPair()
	require.NoError(t, err)
	out, err := h.master().CreateAccount(h.ctx, "alice.test.near", kp.PublicKey(), near.MustParseNEAR("5"))
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, near.CodeAccountExists, xerrors.CodeOf(err))
	assert.Equal(t, near.OutcomeRejected, near.Classify(err))

	// Only the fee is lost, the 5 NEAR come back through a refund receipt.
	spent, ok := before.Sub(h.balance(h.node.MasterAccount()))
	require.True(t, ok)
	assert.Negative(t, spent.Cmp(near.MustParseNEAR("0.01")))
}

func TestForeignSubAccountIsNotAllowed(t *testing.T) {
	h := newHarness(t)
	alice := h.account("alice.test.near", "10")

	kp, err := near.GenerateKeyPair()
	require.NoError(t, err)
	_, err = alice.CreateAccount(h.ctx, "sub.bob.test.near", kp.PublicKey(), near.MustParseNEAR("1"))
	te, ok := near.AsTxError(err)
	require.True(t, ok)
	assert.Equal(t, "CreateAccountNotAllowed", te.Kind)
}

func TestUnknownSignerIsInvalidTransaction(t *testing.T) {
	h := newHarness(t)
	kp, err := near.GenerateKeyPair()
	require.NoError(t, err)
	block, err := h.conn.RPC().Block(h.ctx, near.FinalityFinal)
	require.NoError(t, err)
	hash, err := near.ParseHash(block.Header.Hash)
	require.NoError(t, err)

	st, err := near.SignTransaction(near.Transaction{
		SignerID:   "ghost.test.near",
		PublicKey:  kp.PublicKey(),
		Nonce:      1,
		ReceiverID: "ghost.test.near",
		BlockHash:  hash,
		Actions:    []near.Action{near.NewTransferAction(near.OneYocto())},
	}, kp)
	require.NoError(t, err)

	_, err = h.conn.RPC().BroadcastTxCommit(h.ctx, st)
	require.Error(t, err)
	assert.Equal(t, near.CodeInvalidTransaction, xerrors.CodeOf(err))
	te, ok := near.AsTxError(err)
	require.True(t, ok)
	assert.Equal(t, "SignerDoesNotExist", te.Kind)
}

func TestReplayedTransactionReturnsStoredOutcome(t *testing.T) {
	h := newHarness(t)
	h.account("bob.test.near", "1")
	block, err := h.conn.RPC().Block(h.ctx, near.FinalityFinal)
	require.NoError(t, err)
	hash, err := near.ParseHash(block.Header.Hash)
	require.NoError(t, err)
	key, err := h.master().AccessKey(h.ctx, h.node.MasterKey().PublicKey())
	require.NoError(t, err)

	st, err := near.SignTransaction(near.Transaction{
		SignerID:   h.node.MasterAccount(),
		PublicKey:  h.node.MasterKey().PublicKey(),
		Nonce:      key.Nonce + 1,
		ReceiverID: "bob.test.near",
		BlockHash:  hash,
		Actions:    []near.Action{near.NewTransferAction(near.MustParseNEAR("1"))},
	}, h.node.MasterKey())
	require.NoError(t, err)

	first, err := h.conn.RPC().BroadcastTxCommit(h.ctx, st)
	require.NoError(t, err)
	second, err := h.conn.RPC().BroadcastTxCommit(h.ctx, st)
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), second.Hash())
	assert.Equal(t, 0, h.balance("bob.test.near").Cmp(near.MustParseNEAR("2")))

	polled, err := h.conn.RPC().TxStatus(h.ctx, first.Hash(), h.node.MasterAccount())
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), polled.Hash())

	_, err = h.conn.RPC().TxStatus(h.ctx, first.Hash(), "bob.test.near")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))
}

func TestFunctionCallKeyRestrictions(t *testing.T) {
	h := newHarness(t)
	h.deploy(nftID, NFTSeriesCode, "new_default_meta", map[string]string{"owner_id": nftID})
	alice := h.account("alice.test.near", "10")

	limited, err := near.GenerateKeyPair()
	require.NoError(t, err)
	_, err = alice.AddKey(h.ctx, limited.PublicKey(), &near.FunctionCallPermission{ReceiverID: nftID, MethodNames: []string{"nft_revoke"}})
	require.NoError(t, err)

	key, err := alice.AccessKey(h.ctx, limited.PublicKey())
	require.NoError(t, err)
	assert.False(t, key.IsFullAccess())

	require.NoError(t, h.keys.SetKey(DefaultChainID, "alice.test.near", limited))
	_, err = alice.SendMoney(h.ctx, nftID, near.OneYocto())
	te, ok := near.AsTxError(err)
	require.True(t, ok)
	assert.Equal(t, "RequiresFullAccess", te.Kind)

	_, err = h.call(alice, nftID, "nft_transfer", map[string]string{"token_id": "1:1", "receiver_id": nftID}, near.Amount{})
	te, ok = near.AsTxError(err)
	require.True(t, ok)
	assert.Equal(t, "MethodNameMismatch", te.Kind)
}

func TestViewErrors(t *testing.T) {
	h := newHarness(t)
	h.account("alice.test.near", "10")
	h.deploy(nftID, NFTSeriesCode, "new_default_meta", map[string]string{"owner_id": nftID})

	err := h.view("ghost.test.near", "nft_metadata", nil, nil)
	assert.Equal(t, near.CodeAccountNotFound, xerrors.CodeOf(err))

	err = h.view("alice.test.near", "nft_metadata", nil, nil)
	assert.Equal(t, near.CodeViewFailed, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "CodeDoesNotExist")

	err = h.view(nftID, "no_such_method", nil, nil)
	assert.Equal(t, near.CodeViewFailed, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "MethodNotFound")

	err = h.view(nftID, "nft_get_type", map[string]string{"token_type": "9"}, nil)
	assert.Equal(t, near.CodeViewFailed, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "Paras: Token type 9 does not exist")
}

func TestViewCannotTransfer(t *testing.T) {
	ctx := &callContext{current: nftID, view: true}
	failure := guard(logger.Discard(), "x", func() { ctx.transfer("alice.test.near", near.OneYocto()) })
	assert.Equal(t, map[string]any{"ExecutionError": "Smart contract panicked: ProhibitedInView"}, failure)
}

func TestGuardTurnsRuntimePanicIntoTrap(t *testing.T) {
	failure := guard(logger.Discard(), "x", func() {
		var m map[string]int
		m["boom"] = 1
	})
	assert.Equal(t, map[string]any{"WasmTrap": "Unreachable"}, failure)
}

func TestCamelCaseMethodNames(t *testing.T) {
	assert.Equal(t, "BroadcastTxCommit", camel("broadcast_tx_commit"))
	assert.Equal(t, "Status", camel("status"))
	assert.Equal(t, "Tx", camel("tx"))
}
