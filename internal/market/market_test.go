package market

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

const (
	nftID      = "nft.test.near"
	marketID   = "market.test.near"
	treasuryID = "treasury.test.near"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	node   *sandbox.Node
	keys   *near.InMemoryKeyStore
	conn   *near.Connection
	series *Series
	market *Marketplace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := sandbox.New(sandbox.WithLogger(logger.Discard()))
	require.NoError(t, err)
	srv := httptest.NewServer(node.Handler())
	t.Cleanup(srv.Close)

	keys := near.NewInMemoryKeyStore()
	require.NoError(t, keys.SetKey(sandbox.DefaultChainID, node.MasterAccount(), node.MasterKey()))
	conn, err := near.Connect(context.Background(),
		web3.NetworkConfig{NetworkID: sandbox.DefaultChainID, NodeURL: srv.URL}, keys,
		near.WithLogger(logger.Discard()),
		near.WithRPCOptions(near.WithRetries(0), near.WithRPCLogger(logger.Discard())))
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	f := &fixture{t: t, ctx: context.Background(), node: node, keys: keys, conn: conn}
	nft := f.account(nftID, "50")
	_, err = nft.DeployContract(f.ctx, sandbox.NFTSeriesCode)
	require.NoError(t, err)
	f.series = NewSeries(nft, nftID)
	_, err = f.series.Init(f.ctx, nftID)
	require.NoError(t, err)

	mkt := f.account(marketID, "50")
	f.account(treasuryID, "1")
	_, err = mkt.DeployContract(f.ctx, sandbox.MarketplaceCode)
	require.NoError(t, err)
	f.market = NewMarketplace(mkt, marketID)
	_, err = f.market.Init(f.ctx, InitArgs{OwnerID: marketID, TreasuryID: treasuryID, ApprovedFTTokenIDs: []string{NEAR}, CurrentFee: 500})
	require.NoError(t, err)
	return f
}

func (f *fixture) account(id, amount string) *near.Account {
	f.t.Helper()
	kp, err := near.GenerateKeyPair()
	require.NoError(f.t, err)
	_, err = f.conn.Account(f.node.MasterAccount()).CreateAccount(f.ctx, id, kp.PublicKey(), near.MustParseNEAR(amount))
	require.NoError(f.t, err)
	require.NoError(f.t, f.keys.SetKey(sandbox.DefaultChainID, id, kp))
	return f.conn.Account(id)
}

func (f *fixture) balance(id string) near.Amount {
	f.t.Helper()
	amount, err := f.conn.Account(id).Balance(f.ctx)
	require.NoError(f.t, err)
	return amount
}

func (f *fixture) owner(tokenID string) string {
	f.t.Helper()
	tok, err := f.series.Token(f.ctx, tokenID)
	require.NoError(f.t, err)
	require.NotNil(f.t, tok)
	return tok.OwnerID
}

var one = near.MustParseNEAR("1")

func TestSeriesClientLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx
	copies := uint64(5)

	_, err := f.series.CreateType(ctx, "dog", TokenMetadata{Title: "dog", Media: "https://placedog.net/500", Copies: &copies}, &one)
	require.NoError(t, err)

	info, err := f.series.TypeInfo(ctx, "dog")
	require.NoError(t, err)
	assert.Equal(t, "dog", info.TokenType)
	assert.Equal(t, nftID, info.OwnerID)
	require.NotNil(t, info.Metadata.Copies)
	assert.Equal(t, copies, *info.Metadata.Copies)

	types, err := f.series.Types(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.True(t, types[0].IsMintable)

	tokenID, _, err := f.series.MintType(ctx, "dog", nftID)
	require.NoError(t, err)
	assert.Equal(t, TokenID("dog", 1), tokenID)
	supply, err := f.series.SupplyForType(ctx, "dog")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), supply)

	format, err := f.series.TypeFormat(ctx)
	require.NoError(t, err)
	assert.Equal(t, ":", format.Token)
	assert.NotEmpty(t, format.Title)
	assert.NotEmpty(t, format.Edition)

	alice := f.account("alice.test.near", "5")
	bought, _, err := f.series.As(alice).Buy(ctx, "dog", alice.ID(), one)
	require.NoError(t, err)
	assert.Equal(t, "dog:2", bought)
	balance, err := f.series.TypeBalance(ctx, alice.ID(), "dog")
	require.NoError(t, err)
	assert.Equal(t, "1", balance)

	tokens, err := f.series.TokensByType(ctx, "dog")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, alice.ID(), tokens[1].OwnerID)

	_, err = f.series.SetTypeMintable(ctx, "dog", false)
	require.NoError(t, err)
	_, _, err = f.series.MintType(ctx, "dog", nftID)
	require.Error(t, err)
	assert.Equal(t, near.OutcomeRejected, near.Classify(err))
	assert.Contains(t, err.Error(), "is not mintable")

	missing, err := f.series.Token(ctx, "dog:99")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAuctionClientFlow(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx
	_, err := f.market.AddApprovedNFTContractIDs(ctx, nftID)
	require.NoError(t, err)
	_, err = f.series.CreateType(ctx, "cat", TokenMetadata{}, &one)
	require.NoError(t, err)

	seller := f.account("seller.test.near", "5")
	bidder := f.account("bidder.test.near", "5")
	buyer := f.account("buyer.test.near", "5")
	token, _, err := f.series.As(seller).Buy(ctx, "cat", seller.ID(), one)
	require.NoError(t, err)

	_, err = f.market.As(seller).StorageDeposit(ctx, seller.ID(), StorageDeposit)
	require.NoError(t, err)
	_, err = f.series.As(seller).Approve(ctx, token, marketID, NewAuction(one, time.Now().Add(4*time.Hour)))
	require.NoError(t, err)

	_, err = f.market.As(bidder).AddBid(ctx, nftID, token, near.MustParseNEAR("1.5"))
	require.NoError(t, err)
	md, err := f.market.MarketData(ctx, nftID, token)
	require.NoError(t, err)
	top, ok := md.TopBid()
	require.True(t, ok)
	assert.Equal(t, bidder.ID(), top.BidderID)

	_, err = f.market.As(seller).AcceptBid(ctx, nftID, token)
	require.NoError(t, err)
	assert.Equal(t, bidder.ID(), f.owner(token))
	_, err = f.market.MarketData(ctx, nftID, token)
	assert.Equal(t, near.CodeViewFailed, xerrors.CodeOf(err))

	_, err = f.market.As(bidder).StorageDeposit(ctx, "", StorageDeposit)
	require.NoError(t, err)
	_, err = f.series.As(bidder).Approve(ctx, token, marketID, NewSale(one))
	require.NoError(t, err)

	fee, err := f.market.TransactionFee(ctx)
	require.NoError(t, err)
	treasuryBefore := f.balance(treasuryID)
	out, err := f.market.As(buyer).Buy(ctx, nftID, token, one)
	require.NoError(t, err)
	assert.Empty(t, out.ReceiptFailures())
	assert.Equal(t, buyer.ID(), f.owner(token))
	assert.Equal(t, 0, f.balance(treasuryID).Cmp(treasuryBefore.Add(fee.Fee(one))))
}

func TestBatchedTradeAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx
	_, err := f.market.AddApprovedNFTContractIDs(ctx, nftID)
	require.NoError(t, err)
	_, err = f.series.CreateType(ctx, "fox", TokenMetadata{}, &one)
	require.NoError(t, err)

	alice := f.account("alice.test.near", "5")
	bob := f.account("bob.test.near", "5")
	carol := f.account("carol.test.near", "1")
	aliceToken, _, err := f.series.As(alice).Buy(ctx, "fox", alice.ID(), one)
	require.NoError(t, err)
	bobToken, _, err := f.series.As(bob).Buy(ctx, "fox", bob.ID(), one)
	require.NoError(t, err)
	bobSpare, _, err := f.series.As(bob).Buy(ctx, "fox", bob.ID(), one)
	require.NoError(t, err)

	_, err = f.series.As(alice).Approve(ctx, aliceToken, marketID, NewAddTrade(nftID, bobToken))
	require.NoError(t, err)
	trade, err := f.market.Trade(ctx, nftID, bobToken, alice.ID(), nftID, aliceToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID(), trade.BuyerID)

	bobSeries := f.series.As(bob)
	accept, err := bobSeries.ApproveRequest(bobToken, marketID, NewAcceptTrade(alice.ID(), nftID, aliceToken))
	require.NoError(t, err)
	transfer, err := bobSeries.TransferRequest(bobSpare, carol.ID())
	require.NoError(t, err)
	_, err = bobSeries.Batch(ctx, accept, transfer)
	require.NoError(t, err)

	assert.Equal(t, bob.ID(), f.owner(aliceToken))
	assert.Equal(t, alice.ID(), f.owner(bobToken))
	assert.Equal(t, carol.ID(), f.owner(bobSpare))
}

func TestBatchGasFitsOneTransaction(t *testing.T) {
	f := newFixture(t)
	accept, err := f.series.ApproveRequest("fox:1", marketID, NewAcceptTrade("alice.test.near", nftID, "fox:2"))
	require.NoError(t, err)
	transfer, err := f.series.TransferRequest("fox:3", "carol.test.near")
	require.NoError(t, err)

	reqs, err := batchGas([]near.FunctionCallRequest{accept, transfer})
	require.NoError(t, err)
	actions, err := f.series.Signer().FunctionCallActions(reqs...)
	require.NoError(t, err)
	var total uint64
	for _, action := range actions {
		assert.Equal(t, BatchActionGas, action.FunctionCall.Gas)
		total += action.FunctionCall.Gas
	}
	assert.LessOrEqual(t, total, MaxTransactionGas)
	assert.LessOrEqual(t, total, sandbox.MaxPrepaidGas)
}

func TestBatchGasKeepsExplicitGasAndRejectsOverflow(t *testing.T) {
	explicit := near.FunctionCallRequest{ContractID: nftID, Method: "nft_transfer", Gas: 50_000_000_000_000}
	reqs, err := batchGas([]near.FunctionCallRequest{explicit, {ContractID: nftID, Method: "nft_revoke"}})
	require.NoError(t, err)
	assert.Equal(t, explicit.Gas, reqs[0].Gas)
	assert.Equal(t, BatchActionGas, reqs[1].Gas)

	four := make([]near.FunctionCallRequest, 4)
	_, err = batchGas(four)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestBatchStaysOnOneContract(t *testing.T) {
	f := newFixture(t)
	req, err := f.market.c.Request("storage_withdraw", nil)
	require.NoError(t, err)
	_, err = f.series.Batch(f.ctx, req)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestTypeInfoRejectsWrongShape(t *testing.T) {
	var info TypeInfo
	require.Error(t, info.UnmarshalJSON([]byte(`["a","b"]`)))
	require.NoError(t, info.UnmarshalJSON([]byte(`["a","b",{"title":"t"}]`)))
	assert.Equal(t, "t", info.Metadata.Title)

	var v U64
	require.NoError(t, v.UnmarshalJSON([]byte(`"42"`)))
	assert.Equal(t, U64(42), v)
	require.NoError(t, v.UnmarshalJSON([]byte(`7`)))
	assert.Equal(t, U64(7), v)
}
