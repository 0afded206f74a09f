package scenario

import (
	"context"
	"slices"
	"time"

	"NFTMarket-Harness/internal/market"
	"NFTMarket-Harness/internal/web3/near"
)

// auctionLength is how long a listing stays open for bids.
const auctionLength = 4 * time.Hour

var (
	firstBid  = near.MustParseNEAR("1.05")
	secondBid = near.MustParseNEAR("1.15")
	thirdBid  = near.MustParseNEAR("1.25")
)

// Auction lists a token for bids on the marketplace, outbids twice, accepts
// the top bid and resells the token as a plain sale.
var Auction = Scenario{
	Name:        "auction",
	Description: "auction a token on the marketplace, accept the top bid and resell it",
	steps: slices.Concat(marketSetupSteps, []string{
		"owner creates type",
		"seller buys token",
		"seller pays listing storage",
		"seller lists token for auction",
		"auction listing is visible",
		"first bid",
		"first bid is the top bid",
		"rival outbids",
		"rival outbids is the top bid",
		"bidder outbids rival",
		"bidder outbids rival is the top bid",
		"equal bid rejected",
		"only seller accepts bid",
		"seller accepts top bid",
		"top bidder owns token",
		"auction listing removed",
		"new owner pays listing storage",
		"new owner lists token for sale",
		"read treasury balance",
		"buyer purchases listing",
		"purchase settled every receipt",
		"buyer owns token",
		"treasury received fee",
	}),
	run:         runAuction,
}

func runAuction(ctx context.Context, env *Env, r *recorder) {
	setup, ok := prepareMarket(env, r, "seller", "bidder", "rival", "buyer")
	if !ok {
		return
	}
	seller, bidder, rival, buyer := setup.guests[0], setup.guests[1], setup.guests[2], setup.guests[3]

	tokenType, ok := setup.createPricedType(r, "lot")
	if !ok {
		return
	}
	tokenID, ok := setup.buy(r, "seller buys token", seller, tokenType)
	if !ok {
		return
	}

	nft := env.NFTID
	ok = r.must(r.call("seller pays listing storage", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.market.As(seller).StorageDeposit(ctx, seller.ID(), market.StorageDeposit)
	})) && r.must(r.call("seller lists token for auction", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.nftOwner.As(seller).Approve(ctx, tokenID, env.MarketID, market.NewAuction(typePrice, time.Now().Add(auctionLength)))
	})) && r.must(r.check("auction listing is visible", func(ctx context.Context) error {
		md, err := setup.market.MarketData(ctx, nft, tokenID)
		if err != nil {
			return err
		}
		if md.OwnerID != seller.ID() {
			return assertionError("listing owner = %s, want %s", md.OwnerID, seller.ID())
		}
		if md.IsAuction == nil || !*md.IsAuction {
			return assertionError("listing of %s is not an auction", tokenID)
		}
		if md.Price.Cmp(typePrice) != 0 {
			return assertionError("listing price = %s, want %s", md.Price, typePrice)
		}
		return nil
	}))
	if !ok {
		return
	}

	for _, bid := range []struct {
		step   string
		bidder *near.Account
		amount near.Amount
	}{
		{"first bid", bidder, firstBid},
		{"rival outbids", rival, secondBid},
		{"bidder outbids rival", bidder, thirdBid},
	} {
		if !r.must(r.call(bid.step, ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
			return setup.market.As(bid.bidder).AddBid(ctx, nft, tokenID, bid.amount)
		})) {
			return
		}
		if !r.must(r.check(bid.step+" is the top bid", func(ctx context.Context) error {
			return expectTopBid(ctx, setup.market, nft, tokenID, bid.bidder.ID(), bid.amount)
		})) {
			return
		}
	}
	r.call("equal bid rejected", ExpectRejection("less than or equal to current bid price"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.market.As(rival).AddBid(ctx, nft, tokenID, thirdBid)
	})
	r.call("only seller accepts bid", ExpectRejection("Only seller"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.market.As(rival).AcceptBid(ctx, nft, tokenID)
	})

	ok = r.must(r.call("seller accepts top bid", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.market.As(seller).AcceptBid(ctx, nft, tokenID)
	})) && r.must(r.check("top bidder owns token", func(ctx context.Context) error {
		return expectOwner(ctx, setup.nftOwner, tokenID, bidder.ID())
	}))
	if !ok {
		return
	}
	r.check("auction listing removed", func(ctx context.Context) error {
		return setup.expectNoListing(ctx, nft, tokenID)
	})

	ok = r.must(r.call("new owner pays listing storage", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.market.As(bidder).StorageDeposit(ctx, bidder.ID(), market.StorageDeposit)
	})) && r.must(r.call("new owner lists token for sale", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return setup.nftOwner.As(bidder).Approve(ctx, tokenID, env.MarketID, market.NewSale(typePrice))
	}))
	if !ok {
		return
	}

	var treasuryBefore near.Amount
	var purchase *near.FinalExecutionOutcome
	ok = r.must(r.check("read treasury balance", func(ctx context.Context) (err error) {
		treasuryBefore, err = env.Conn.Account(setup.treasury).Balance(ctx)
		return err
	})) && r.must(r.call("buyer purchases listing", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		out, err := setup.market.As(buyer).Buy(ctx, nft, tokenID, typePrice)
		purchase = out
		return out, err
	}))
	if !ok {
		return
	}
	r.check("purchase settled every receipt", func(context.Context) error {
		if failures := purchase.ReceiptFailures(); len(failures) > 0 {
			return assertionError("purchase receipt failed: %s", failures[0].Message)
		}
		return nil
	})
	r.check("buyer owns token", func(ctx context.Context) error {
		return expectOwner(ctx, setup.nftOwner, tokenID, buyer.ID())
	})
	r.check("treasury received fee", func(ctx context.Context) error {
		after, err := env.Conn.Account(setup.treasury).Balance(ctx)
		if err != nil {
			return err
		}
		fee := setup.fee.Fee(typePrice)
		delta, ok := after.Sub(treasuryBefore)
		if !ok || delta.Cmp(fee) < 0 {
			return assertionError("treasury grew from %s to %s, want at least %s more", treasuryBefore, after, fee)
		}
		return nil
	})
}

func expectTopBid(ctx context.Context, m *market.Marketplace, nftID, tokenID, bidderID string, amount near.Amount) error {
	md, err := m.MarketData(ctx, nftID, tokenID)
	if err != nil {
		return err
	}
	top, ok := md.TopBid()
	if !ok {
		return assertionError("listing of %s has no bids", tokenID)
	}
	if top.BidderID != bidderID || top.Price.Cmp(amount) != 0 {
		return assertionError("top bid = %s by %s, want %s by %s", top.Price, top.BidderID, amount, bidderID)
	}
	return nil
}
