package scenario

import (
	"context"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/market"
	"NFTMarket-Harness/internal/web3/near"
)

// marketFee is the fee in basis points of a marketplace this harness
// initialises.
const marketFee = 500

// marketSetup is the state shared by the marketplace scenarios once both
// contracts are deployed and initialised.
type marketSetup struct {
	nftOwner *market.Series
	market   *market.Marketplace
	owner    string
	treasury string
	fee      market.TransactionFee
	guests   []*near.Account
}

// marketSetupSteps are the steps prepareMarket records on success.
var marketSetupSteps = []string{
	"deploy nft contract",
	"init nft contract",
	"deploy marketplace",
	"create guest accounts",
	"init marketplace",
	"read marketplace settings",
	"approve nft contract",
	"nft contract is approved",
}

// prepareMarket deploys and initialises both contracts, approves the NFT
// contract on the marketplace and creates one funded guest per label. It
// returns false once a step the rest depends on did not pass.
func prepareMarket(env *Env, r *recorder, labels ...string) (*marketSetup, bool) {
	if env.MarketID == "" {
		r.check("resolve marketplace", func(context.Context) error {
			return xerrors.New(xerrors.CodeInvalidArgument, "network "+env.Network.NetworkID+" has no marketplace contract")
		})
		r.halt()
		return nil, false
	}
	s := &marketSetup{nftOwner: env.Series(env.Conn.Account(env.NFTID))}

	ok := r.must(r.check("deploy nft contract", func(ctx context.Context) error {
		_, err := env.EnsureContract(ctx, env.NFTID, env.Code.NFT)
		return err
	})) && r.must(r.call("init nft contract", ExpectSuccess(alreadyInitialized), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return s.nftOwner.Init(ctx, env.NFTID)
	}))
	if !ok {
		return nil, false
	}

	var accounts []*near.Account
	ok = r.must(r.check("deploy marketplace", func(ctx context.Context) error {
		_, err := env.EnsureContract(ctx, env.MarketID, env.Code.Market)
		return err
	})) && r.must(r.check("create guest accounts", func(ctx context.Context) (err error) {
		accounts, err = env.CreateAccounts(ctx, append([]string{"treasury"}, labels...)...)
		return err
	}))
	if !ok {
		return nil, false
	}
	s.guests = accounts[1:]

	// An existing marketplace keeps its owner and treasury; init is then
	// tolerated and the views below tell who they are.
	bootstrap := env.Marketplace(env.Conn.Account(env.MarketID))
	ok = r.must(r.call("init marketplace", ExpectSuccess(alreadyInitialized), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return bootstrap.Init(ctx, market.InitArgs{
			OwnerID:                env.MarketID,
			TreasuryID:             accounts[0].ID(),
			ApprovedFTTokenIDs:     []string{market.NEAR},
			ApprovedNFTContractIDs: []string{env.NFTID},
			CurrentFee:             marketFee,
		})
	})) && r.must(r.check("read marketplace settings", func(ctx context.Context) (err error) {
		if s.owner, err = bootstrap.Owner(ctx); err != nil {
			return err
		}
		if s.treasury, err = bootstrap.Treasury(ctx); err != nil {
			return err
		}
		s.fee, err = bootstrap.TransactionFee(ctx)
		return err
	}))
	if !ok {
		return nil, false
	}
	s.market = env.Marketplace(env.Conn.Account(s.owner))

	ok = r.must(r.call("approve nft contract", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return s.market.AddApprovedNFTContractIDs(ctx, env.NFTID)
	})) && r.must(r.check("nft contract is approved", func(ctx context.Context) error {
		ids, err := s.market.ApprovedNFTContractIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id == env.NFTID {
				return nil
			}
		}
		return assertionError("approved nft contracts %v miss %s", ids, env.NFTID)
	}))
	return s, ok
}

// createPricedType registers a fresh type sold at typePrice.
func (s *marketSetup) createPricedType(r *recorder, prefix string) (string, bool) {
	name := UniqueName(prefix)
	ok := r.must(r.call("owner creates type", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return s.nftOwner.CreateType(ctx, name, market.TokenMetadata{Title: name}, &typePrice)
	}))
	return name, ok
}

// buy has buyer pay typePrice for the next edition of tokenType.
func (s *marketSetup) buy(r *recorder, step string, buyer *near.Account, tokenType string) (string, bool) {
	var tokenID string
	ok := r.must(r.call(step, ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		id, out, err := s.nftOwner.As(buyer).Buy(ctx, tokenType, buyer.ID(), typePrice)
		tokenID = id
		return out, err
	}))
	return tokenID, ok
}

// expectNoListing asserts the marketplace has no listing for tokenID.
func (s *marketSetup) expectNoListing(ctx context.Context, nftID, tokenID string) error {
	_, err := s.market.MarketData(ctx, nftID, tokenID)
	if err == nil {
		return assertionError("market data for %s still exists", tokenID)
	}
	if xerrors.CodeOf(err) == near.CodeViewFailed {
		return nil
	}
	return err
}
