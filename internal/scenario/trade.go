package scenario

import (
	"context"
	"slices"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/market"
	"NFTMarket-Harness/internal/web3/near"
)

// Trade swaps two tokens through the marketplace. The accepting side sends a
// single transaction that also hands a spare token to a third account.
var Trade = Scenario{
	Name:        "trade",
	Description: "offer a token for another and accept it in one batched transaction",
	steps: slices.Concat(marketSetupSteps, []string{
		"owner creates type",
		"offerer buys token",
		"accepter buys token",
		"accepter buys spare token",
		"offerer proposes trade",
		"trade is recorded",
		"accepter accepts and transfers in one transaction",
		"offered token moved to accepter",
		"wanted token moved to offerer",
		"batched transfer applied",
		"trade removed",
	}),
	run:         runTrade,
}

func runTrade(ctx context.Context, env *Env, r *recorder) {
	setup, ok := prepareMarket(env, r, "offerer", "accepter", "receiver")
	if !ok {
		return
	}
	offerer, accepter, receiver := setup.guests[0], setup.guests[1], setup.guests[2]

	tokenType, ok := setup.createPricedType(r, "swap")
	if !ok {
		return
	}
	offered, ok := setup.buy(r, "offerer buys token", offerer, tokenType)
	if !ok {
		return
	}
	wanted, ok := setup.buy(r, "accepter buys token", accepter, tokenType)
	if !ok {
		return
	}
	spare, ok := setup.buy(r, "accepter buys spare token", accepter, tokenType)
	if !ok {
		return
	}

	nft := env.NFTID
	ok = r.must(r.call("offerer proposes trade", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.nftOwner.As(offerer).Approve(ctx, offered, env.MarketID, market.NewAddTrade(nft, wanted))
	})) && r.must(r.check("trade is recorded", func(ctx context.Context) error {
		td, err := setup.market.Trade(ctx, nft, wanted, offerer.ID(), nft, offered)
		if err != nil {
			return err
		}
		if td.BuyerID != offerer.ID() || td.BuyerTokenID != offered {
			return assertionError("trade = %s offering %s, want %s offering %s", td.BuyerID, td.BuyerTokenID, offerer.ID(), offered)
		}
		return nil
	}))
	if !ok {
		return
	}

	asAccepter := setup.nftOwner.As(accepter)
	ok = r.must(r.call("accepter accepts and transfers in one transaction", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		accept, err := asAccepter.ApproveRequest(wanted, env.MarketID, market.NewAcceptTrade(offerer.ID(), nft, offered))
		if err != nil {
			return nil, err
		}
		transfer, err := asAccepter.TransferRequest(spare, receiver.ID())
		if err != nil {
			return nil, err
		}
		return asAccepter.Batch(ctx, accept, transfer)
	}))
	if !ok {
		return
	}

	r.check("offered token moved to accepter", func(ctx context.Context) error {
		return expectOwner(ctx, setup.nftOwner, offered, accepter.ID())
	})
	r.check("wanted token moved to offerer", func(ctx context.Context) error {
		return expectOwner(ctx, setup.nftOwner, wanted, offerer.ID())
	})
	r.check("batched transfer applied", func(ctx context.Context) error {
		return expectOwner(ctx, setup.nftOwner, spare, receiver.ID())
	})
	r.check("trade removed", func(ctx context.Context) error {
		_, err := setup.market.Trade(ctx, nft, wanted, offerer.ID(), nft, offered)
		if err == nil {
			return assertionError("trade for %s still recorded", wanted)
		}
		if xerrors.CodeOf(err) == near.CodeViewFailed {
			return nil
		}
		return err
	})
}
