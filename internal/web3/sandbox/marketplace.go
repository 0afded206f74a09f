package sandbox

import (
	"encoding/json"
	"sort"
	"strings"

	"NFTMarket-Harness/internal/web3/near"
)

const (
	marketDelimiter = "||"
	nearToken       = "near"

	transferGas = 20_000_000_000_000
	resolveGas  = 115_000_000_000_000
	maxPayout   = 10
)

var (
	// StorageAddMarketData is the storage deposit required per listing.
	StorageAddMarketData = near.MustParseYocto("8590000000000000000000")
	// MaxPrice bounds listing prices.
	MaxPrice = near.MustParseYocto("1000000000000000000000000000000000")
)

type bid struct {
	BidderID string      `json:"bidder_id"`
	Price    near.Amount `json:"price"`
}

type marketData struct {
	OwnerID       string       `json:"owner_id"`
	ApprovalID    uint64       `json:"approval_id"`
	NFTContractID string       `json:"nft_contract_id"`
	TokenID       string       `json:"token_id"`
	FTTokenID     string       `json:"ft_token_id"`
	Price         near.Amount  `json:"price"`
	Bids          []bid        `json:"bids"`
	StartedAt     *jsonU64     `json:"started_at"`
	EndedAt       *jsonU64     `json:"ended_at"`
	EndPrice      *near.Amount `json:"end_price"`
	IsAuction     *bool        `json:"is_auction"`
}

type tradeData struct {
	BuyerID            string  `json:"buyer_id"`
	NFTContractID      string  `json:"nft_contract_id"`
	TokenID            *string `json:"token_id"`
	TokenSeriesID      *string `json:"token_series_id"`
	BuyerNFTContractID string  `json:"buyer_nft_contract_id"`
	BuyerTokenID       string  `json:"buyer_token_id"`
	BuyerApprovalID    uint64  `json:"buyer_approval_id"`
}

type tradeList struct {
	ApprovalID uint64                `json:"approval_id"`
	TradeData  map[string]*tradeData `json:"trade_data"`
}

type transactionFee struct {
	NextFee    *uint16 `json:"next_fee"`
	StartTime  *uint64 `json:"start_time"`
	CurrentFee uint16  `json:"current_fee"`
}

type marketState struct {
	OwnerID         string                     `json:"owner_id"`
	TreasuryID      string                     `json:"treasury_id"`
	Market          map[string]*marketData     `json:"market"`
	ApprovedFT      map[string]bool            `json:"approved_ft_token_ids"`
	ApprovedNFT     map[string]bool            `json:"approved_nft_contract_ids"`
	ParasNFT        map[string]bool            `json:"paras_nft_contracts"`
	StorageDeposits map[string]near.Amount     `json:"storage_deposits"`
	ByOwnerID       map[string]map[string]bool `json:"by_owner_id"`
	Trades          map[string]*tradeList      `json:"trades"`
	TransactionFee  transactionFee             `json:"transaction_fee"`
}

func makeTriple(contract, account, token string) string {
	return contract + marketDelimiter + account + marketDelimiter + token
}

func marketKey(contract, token string) string {
	return contract + marketDelimiter + token
}

func toSec(ns uint64) uint64 { return ns / 1_000_000_000 }

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *marketState) assertOwner(ctx *callContext) {
	ctx.require(ctx.predecessor == s.OwnerID, "Paras: Only owner")
}

func (s *marketState) addOwned(owner, key string) {
	set := s.ByOwnerID[owner]
	if set == nil {
		set = make(map[string]bool)
		s.ByOwnerID[owner] = set
	}
	set[key] = true
}

func (s *marketState) removeOwned(owner, key string) {
	set := s.ByOwnerID[owner]
	delete(set, key)
	if len(set) == 0 {
		delete(s.ByOwnerID, owner)
	}
}

func (s *marketState) currentFee(ctx *callContext) uint16 {
	fee := &s.TransactionFee
	if fee.NextFee != nil && fee.StartTime != nil && toSec(ctx.timestamp) >= *fee.StartTime {
		fee.CurrentFee = *fee.NextFee
		fee.NextFee = nil
		fee.StartTime = nil
	}
	return fee.CurrentFee
}

// addMarketData lists a token. Auctions start with an empty bid list.
func (s *marketState) addMarketData(ctx *callContext, md *marketData) {
	if md.StartedAt != nil {
		ctx.require(uint64(*md.StartedAt) >= ctx.timestamp, "Paras: started_at is in the past")
		if md.EndedAt != nil {
			ctx.require(*md.StartedAt < *md.EndedAt, "Paras: started_at must be before ended_at")
		}
	}
	if md.EndedAt != nil {
		ctx.require(uint64(*md.EndedAt) >= ctx.timestamp, "Paras: ended_at is in the past")
	}
	if md.EndPrice != nil {
		ctx.require(md.EndPrice.Cmp(md.Price) < 0, "Paras: End price is more than starting price")
	}
	ctx.require(md.Price.Cmp(MaxPrice) < 0, "Paras: price higher than %s", MaxPrice)
	md.Bids = nil
	if md.IsAuction != nil && *md.IsAuction {
		md.Bids = []bid{}
	}

	key := marketKey(md.NFTContractID, md.TokenID)
	s.Market[key] = md
	s.addOwned(md.OwnerID, key)
	ctx.logJSON(map[string]any{"type": "add_market_data", "params": md})
}

// deleteMarketData removes a listing and refunds its open bids.
func (s *marketState) deleteMarketData(ctx *callContext, contract, token string) *marketData {
	key := marketKey(contract, token)
	md, ok := s.Market[key]
	if !ok {
		return nil
	}
	delete(s.Market, key)
	for _, b := range md.Bids {
		ctx.transfer(b.BidderID, b.Price)
	}
	s.removeOwned(md.OwnerID, key)
	return md
}

func (s *marketState) processPurchase(ctx *callContext, contract, token, buyer string, price near.Amount) *promise {
	md := s.deleteMarketData(ctx, contract, token)
	ctx.require(md != nil, "Paras: Sale does not exist")
	limit := uint32(maxPayout)
	transfer := ctx.call(contract, "nft_transfer_payout", map[string]any{
		"receiver_id":    buyer,
		"token_id":       token,
		"approval_id":    md.ApprovalID,
		"balance":        price,
		"max_len_payout": limit,
	}, near.OneYocto(), transferGas)
	resolve := ctx.call(ctx.current, "resolve_purchase", map[string]any{
		"buyer_id":    buyer,
		"market_data": md,
		"price":       price,
	}, near.Amount{}, resolveGas)
	return ctx.schedule(transfer.Then(resolve))
}

// parsePayout accepts both {"payout":{..}} and a bare account map. The
// parts must add up to price, give or take one yocto.
func parsePayout(raw []byte, price near.Amount) (map[string]near.Amount, bool) {
	var wrapped payout
	parts := map[string]near.Amount(nil)
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Payout != nil {
		parts = wrapped.Payout
	} else if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, false
	}
	remainder := price
	for _, amount := range parts {
		left, ok := remainder.Sub(amount)
		if !ok {
			return nil, false
		}
		remainder = left
	}
	if remainder.Cmp(near.OneYocto()) > 0 {
		return nil, false
	}
	return parts, true
}

func (s *marketState) trade(ctx *callContext, buyerKey, key string) (*tradeList, *tradeData) {
	list, ok := s.Trades[buyerKey]
	ctx.require(ok, "Paras: Trade list does not exist")
	td, ok := list.TradeData[key]
	ctx.require(ok, "Paras: Trade data does not exist")
	return list, td
}

func (s *marketState) deleteTrade(ctx *callContext, contract, buyer, token, buyerContract, buyerToken string) *tradeData {
	buyerKey := makeTriple(buyerContract, buyer, buyerToken)
	key := makeTriple(contract, buyer, token)
	list, ok := s.Trades[buyerKey]
	ctx.require(ok, "Paras: Trade list does not exist")
	td, ok := list.TradeData[key]
	if !ok {
		return nil
	}
	delete(list.TradeData, key)
	if len(list.TradeData) == 0 {
		delete(s.Trades, buyerKey)
	}
	s.removeOwned(td.BuyerID, key+marketDelimiter+"trade")
	return td
}

type marketArgs struct {
	MarketType          string       `json:"market_type"`
	Price               *near.Amount `json:"price"`
	FTTokenID           *string      `json:"ft_token_id"`
	EndPrice            *near.Amount `json:"end_price"`
	StartedAt           *jsonU64     `json:"started_at"`
	EndedAt             *jsonU64     `json:"ended_at"`
	IsAuction           *bool        `json:"is_auction"`
	SellerNFTContractID *string      `json:"seller_nft_contract_id"`
	SellerTokenID       *string      `json:"seller_token_id"`
	SellerTokenSeriesID *string      `json:"seller_token_series_id"`
	BuyerID             *string      `json:"buyer_id"`
	BuyerNFTContractID  *string      `json:"buyer_nft_contract_id"`
	BuyerTokenID        *string      `json:"buyer_token_id"`
}

type (
	marketInitArgs struct {
		OwnerID                string   `json:"owner_id"`
		TreasuryID             string   `json:"treasury_id"`
		ApprovedFTTokenIDs     []string `json:"approved_ft_token_ids"`
		ApprovedNFTContractIDs []string `json:"approved_nft_contract_ids"`
		ParasNFTContractIDs    []string `json:"paras_nft_contract_ids"`
		CurrentFee             *uint16  `json:"current_fee"`
	}
	listingArgs struct {
		NFTContractID string       `json:"nft_contract_id"`
		TokenID       string       `json:"token_id"`
		FTTokenID     *string      `json:"ft_token_id"`
		Price         *near.Amount `json:"price"`
		Amount        *near.Amount `json:"amount"`
	}
	accountListArgs struct {
		NFTContractIDs []string `json:"nft_contract_ids"`
		FTTokenIDs     []string `json:"ft_token_ids"`
	}
	onApproveArgs struct {
		TokenID    string `json:"token_id"`
		OwnerID    string `json:"owner_id"`
		ApprovalID uint64 `json:"approval_id"`
		Msg        string `json:"msg"`
	}
	tradeArgs struct {
		NFTContractID      string  `json:"nft_contract_id"`
		BuyerID            string  `json:"buyer_id"`
		TokenID            *string `json:"token_id"`
		TokenSeriesID      *string `json:"token_series_id"`
		BuyerNFTContractID string  `json:"buyer_nft_contract_id"`
		BuyerTokenID       string  `json:"buyer_token_id"`
	}
)

func addAll(set map[string]bool, ids []string) {
	for _, id := range ids {
		set[id] = true
	}
}

// newMarketplace is the Paras marketplace: NEAR-priced sales, English
// auctions with a single standing bid and NFT-for-NFT trades, all opened
// through nft_on_approve.
func newMarketplace() program {
	return &contract[marketState]{
		inits: map[string]initFunc[marketState]{
			"new": func(ctx *callContext, raw []byte) *marketState {
				var args marketInitArgs
				ctx.decode(raw, &args)
				ctx.require(args.OwnerID != "" && args.TreasuryID != "", "owner_id and treasury_id are required")
				s := &marketState{
					OwnerID:         args.OwnerID,
					TreasuryID:      args.TreasuryID,
					Market:          map[string]*marketData{},
					ApprovedFT:      map[string]bool{nearToken: true},
					ApprovedNFT:     map[string]bool{},
					ParasNFT:        map[string]bool{},
					StorageDeposits: map[string]near.Amount{},
					ByOwnerID:       map[string]map[string]bool{},
					Trades:          map[string]*tradeList{},
				}
				addAll(s.ApprovedFT, args.ApprovedFTTokenIDs)
				addAll(s.ApprovedNFT, args.ApprovedNFTContractIDs)
				addAll(s.ParasNFT, args.ParasNFTContractIDs)
				if args.CurrentFee != nil {
					s.TransactionFee.CurrentFee = *args.CurrentFee
				}
				return s
			},
		},
		changes: map[string]changeFunc[marketState]{
			"set_treasury": func(ctx *callContext, s *marketState, raw []byte) any {
				var args struct {
					TreasuryID string `json:"treasury_id"`
				}
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				s.TreasuryID = args.TreasuryID
				return nil
			},
			"transfer_ownership": func(ctx *callContext, s *marketState, raw []byte) any {
				var args struct {
					OwnerID string `json:"owner_id"`
				}
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				s.OwnerID = args.OwnerID
				return nil
			},
			"set_transaction_fee":               setTransactionFee,
			"calculate_current_transaction_fee": func(ctx *callContext, s *marketState, _ []byte) any { return s.currentFee(ctx) },
			"add_approved_nft_contract_ids": func(ctx *callContext, s *marketState, raw []byte) any {
				var args accountListArgs
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				addAll(s.ApprovedNFT, args.NFTContractIDs)
				return nil
			},
			"remove_approved_nft_contract_ids": func(ctx *callContext, s *marketState, raw []byte) any {
				var args accountListArgs
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				for _, id := range args.NFTContractIDs {
					delete(s.ApprovedNFT, id)
				}
				return nil
			},
			"add_approved_paras_nft_contract_ids": func(ctx *callContext, s *marketState, raw []byte) any {
				var args accountListArgs
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				addAll(s.ParasNFT, args.NFTContractIDs)
				return nil
			},
			"add_approved_ft_token_ids": func(ctx *callContext, s *marketState, raw []byte) any {
				var args accountListArgs
				ctx.decode(raw, &args)
				ctx.assertOneYocto()
				s.assertOwner(ctx)
				addAll(s.ApprovedFT, args.FTTokenIDs)
				return nil
			},
			"buy":                marketBuy,
			"resolve_purchase":   resolvePurchase,
			"add_bid":            addBid,
			"accept_bid":         acceptBid,
			"update_market_data": updateMarketData,
			"delete_market_data": deleteMarketData,
			"delete_trade":       deleteTrade,
			"storage_deposit":    storageDeposit,
			"storage_withdraw":   storageWithdraw,
			"nft_on_approve":     nftOnApprove,
		},
		views: map[string]viewFunc[marketState]{
			"get_market_data": func(ctx *callContext, s *marketState, raw []byte) any {
				var args listingArgs
				ctx.decode(raw, &args)
				md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
				ctx.require(ok, "Paras: Market data does not exist")
				return md
			},
			"get_trade": func(ctx *callContext, s *marketState, raw []byte) any {
				var args tradeArgs
				ctx.decode(raw, &args)
				token := args.TokenSeriesID
				if args.TokenID != nil {
					token = args.TokenID
				}
				ctx.require(token != nil, "Paras: token_id or token_series_id is required")
				_, td := s.trade(ctx, makeTriple(args.BuyerNFTContractID, args.BuyerID, args.BuyerTokenID), makeTriple(args.NFTContractID, args.BuyerID, *token))
				return td
			},
			"get_supply_by_owner_id": func(ctx *callContext, s *marketState, raw []byte) any {
				var args struct {
					AccountID string `json:"account_id"`
				}
				ctx.decode(raw, &args)
				return jsonU64(len(s.ByOwnerID[args.AccountID]))
			},
			"get_owner":                  func(_ *callContext, s *marketState, _ []byte) any { return s.OwnerID },
			"get_treasury":               func(_ *callContext, s *marketState, _ []byte) any { return s.TreasuryID },
			"get_transaction_fee":        func(_ *callContext, s *marketState, _ []byte) any { return s.TransactionFee },
			"approved_ft_token_ids":      func(_ *callContext, s *marketState, _ []byte) any { return sortedKeys(s.ApprovedFT) },
			"approved_nft_contract_ids":  func(_ *callContext, s *marketState, _ []byte) any { return sortedKeys(s.ApprovedNFT) },
			"supported_nft_contract_ids": func(_ *callContext, s *marketState, _ []byte) any { return sortedKeys(s.ApprovedNFT) },
			"storage_minimum_balance":    func(*callContext, *marketState, []byte) any { return StorageAddMarketData },
			"storage_balance_of": func(ctx *callContext, s *marketState, raw []byte) any {
				var args struct {
					AccountID string `json:"account_id"`
				}
				ctx.decode(raw, &args)
				return s.StorageDeposits[args.AccountID]
			},
		},
	}
}

func setTransactionFee(ctx *callContext, s *marketState, raw []byte) any {
	var args struct {
		NextFee   uint16  `json:"next_fee"`
		StartTime *uint64 `json:"start_time"`
	}
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	s.assertOwner(ctx)
	ctx.require(args.NextFee < 10_000, "Paras: fee is higher than 10_000")
	if args.StartTime == nil {
		s.TransactionFee = transactionFee{CurrentFee: args.NextFee}
		return nil
	}
	ctx.require(*args.StartTime > toSec(ctx.timestamp), "start_time is less than current block_timestamp")
	next := args.NextFee
	s.TransactionFee.NextFee = &next
	s.TransactionFee.StartTime = args.StartTime
	return nil
}

func marketBuy(ctx *callContext, s *marketState, raw []byte) any {
	var args listingArgs
	ctx.decode(raw, &args)
	md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
	ctx.require(ok, "Paras: Market data does not exist")
	buyer := ctx.predecessor
	ctx.require(buyer != md.OwnerID, "Paras: Cannot buy your own sale")
	ctx.require(md.FTTokenID == nearToken, "Paras: NEAR support only")
	if args.FTTokenID != nil {
		ctx.require(*args.FTTokenID == md.FTTokenID, "Paras: ft_token_id differs")
	}
	if args.Price != nil {
		ctx.require(args.Price.Cmp(md.Price) == 0, "Paras: price differs")
	}

	price := md.Price
	switch {
	case md.IsAuction != nil && md.EndPrice != nil:
		ctx.require(md.StartedAt != nil && md.EndedAt != nil, "Paras: Dutch auction needs started_at and ended_at")
		start, end := uint64(*md.StartedAt), uint64(*md.EndedAt)
		ctx.require(ctx.timestamp >= start, "Paras: Auction has not started yet")
		if ctx.timestamp > end {
			price = *md.EndPrice
		} else {
			drop, _ := md.Price.Sub(*md.EndPrice)
			step := drop.MulDiv(1, end-start)
			decay := step.MulDiv(ctx.timestamp-start, 1)
			price, _ = md.Price.Sub(decay)
		}
	case md.IsAuction != nil:
		ctx.require(!*md.IsAuction, "Paras: the NFT is on auction")
	}
	ctx.require(ctx.deposit.Cmp(price) >= 0, "Paras: Attached deposit is less than price %s", price)
	if excess, _ := ctx.deposit.Sub(price); !excess.IsZero() {
		ctx.transfer(buyer, excess)
	}
	return s.processPurchase(ctx, args.NFTContractID, args.TokenID, buyer, price)
}

func resolvePurchase(ctx *callContext, s *marketState, raw []byte) any {
	ctx.assertPrivate("resolve_purchase")
	var args struct {
		BuyerID    string      `json:"buyer_id"`
		MarketData marketData  `json:"market_data"`
		Price      near.Amount `json:"price"`
	}
	ctx.decode(raw, &args)
	md, price := args.MarketData, args.Price
	params := map[string]any{
		"owner_id":        md.OwnerID,
		"nft_contract_id": md.NFTContractID,
		"token_id":        md.TokenID,
		"ft_token_id":     md.FTTokenID,
		"price":           price,
		"buyer_id":        args.BuyerID,
	}

	value, ok := ctx.promiseSuccess()
	var parts map[string]near.Amount
	if ok {
		parts, ok = parsePayout(value, price)
	}
	if !ok {
		if md.FTTokenID == nearToken {
			ctx.transfer(args.BuyerID, price)
		}
		ctx.logJSON(map[string]any{"type": "resolve_purchase_fail", "params": params})
		return price
	}

	fee := price.MulDiv(uint64(s.currentFee(ctx)), 10_000)
	receivers := make([]string, 0, len(parts))
	for id := range parts {
		receivers = append(receivers, id)
	}
	sort.Strings(receivers)
	for _, id := range receivers {
		amount := parts[id]
		if id != md.OwnerID {
			ctx.transfer(id, amount)
			continue
		}
		net, ok := amount.Sub(fee)
		ctx.require(ok, "Paras: payout smaller than treasury fee")
		ctx.transfer(id, net)
		ctx.transfer(s.TreasuryID, fee)
	}
	ctx.logJSON(map[string]any{"type": "resolve_purchase", "params": params})
	return price
}

func addBid(ctx *callContext, s *marketState, raw []byte) any {
	var args listingArgs
	ctx.decode(raw, &args)
	md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
	ctx.require(ok, "Paras: Token id does not exist")
	bidder := ctx.predecessor

	if md.StartedAt != nil {
		ctx.require(ctx.timestamp >= uint64(*md.StartedAt), "Paras: Sale has not started yet")
	}
	if md.EndedAt != nil {
		ctx.require(ctx.timestamp <= uint64(*md.EndedAt), "Paras: Sale has ended")
	}
	ctx.require(args.Amount != nil, "amount is required")
	amount := *args.Amount
	ctx.require(ctx.deposit.Cmp(amount) >= 0, "Paras: attached deposit is less than amount")
	ctx.require(args.FTTokenID != nil && *args.FTTokenID == nearToken, "Paras: Only support NEAR")
	ctx.require(md.EndPrice == nil, "Paras: Dutch auction does not accept add_bid")
	ctx.require(md.Bids != nil, "Paras: the NFT is not on auction")

	if n := len(md.Bids); n > 0 {
		current := md.Bids[n-1]
		ctx.require(amount.Cmp(current.Price) > 0, "Paras: Can't pay less than or equal to current bid price: %s", current.Price)
		ctx.require(amount.Cmp(md.Price) > 0, "Paras: Can't pay less than or equal to starting price: %s", md.Price)
		ctx.transfer(current.BidderID, current.Price)
		md.Bids = md.Bids[:n-1]
	} else {
		ctx.require(amount.Cmp(md.Price) > 0, "Paras: Can't pay less than or equal to starting price: %s", md.Price)
	}
	md.Bids = append(md.Bids, bid{BidderID: bidder, Price: amount})
	if excess, _ := ctx.deposit.Sub(amount); !excess.IsZero() {
		ctx.transfer(bidder, excess)
	}
	ctx.logJSON(map[string]any{"type": "add_bid", "params": map[string]any{
		"bidder_id":       bidder,
		"nft_contract_id": args.NFTContractID,
		"token_id":        args.TokenID,
		"ft_token_id":     nearToken,
		"amount":          amount,
	}})
	return nil
}

func acceptBid(ctx *callContext, s *marketState, raw []byte) any {
	var args listingArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
	ctx.require(ok, "Paras: Token id does not exist")
	ctx.require(md.OwnerID == ctx.predecessor, "Paras: Only seller can call accept_bid")
	ctx.require(md.EndPrice == nil, "Paras: Dutch auction does not accept accept_bid")
	ctx.require(len(md.Bids) > 0, "Paras: Market data has no bids")

	selected := md.Bids[len(md.Bids)-1]
	md.Bids = md.Bids[:len(md.Bids)-1]
	s.processPurchase(ctx, md.NFTContractID, args.TokenID, selected.BidderID, selected.Price)
	return nil
}

func updateMarketData(ctx *callContext, s *marketState, raw []byte) any {
	var args listingArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
	ctx.require(ok, "Paras: Token id does not exist ")
	ctx.require(md.OwnerID == ctx.predecessor, "Paras: Seller only")
	ctx.require(args.FTTokenID != nil && *args.FTTokenID == md.FTTokenID, "Paras: ft_token_id differs")
	ctx.require(args.Price != nil, "price is required")
	ctx.require(args.Price.Cmp(MaxPrice) < 0, "Paras: price higher than %s", MaxPrice)
	md.Price = *args.Price
	ctx.logJSON(map[string]any{"type": "update_market_data", "params": map[string]any{
		"owner_id":        md.OwnerID,
		"nft_contract_id": args.NFTContractID,
		"token_id":        args.TokenID,
		"ft_token_id":     md.FTTokenID,
		"price":           md.Price,
	}})
	return nil
}

func deleteMarketData(ctx *callContext, s *marketState, raw []byte) any {
	var args listingArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	md, ok := s.Market[marketKey(args.NFTContractID, args.TokenID)]
	ctx.require(ok, "Paras: Market data does not exist")
	ctx.require(ctx.predecessor == md.OwnerID || ctx.predecessor == s.OwnerID, "Paras: Seller or owner only")
	s.deleteMarketData(ctx, args.NFTContractID, args.TokenID)
	ctx.logJSON(map[string]any{"type": "delete_market_data", "params": map[string]any{
		"owner_id":        md.OwnerID,
		"nft_contract_id": args.NFTContractID,
		"token_id":        args.TokenID,
	}})
	return nil
}

func deleteTrade(ctx *callContext, s *marketState, raw []byte) any {
	var args tradeArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	token := args.TokenSeriesID
	if args.TokenID != nil {
		token = args.TokenID
	}
	ctx.require(token != nil, "Paras: token_id or token_series_id is required")
	buyer := ctx.predecessor
	_, td := s.trade(ctx, makeTriple(args.BuyerNFTContractID, buyer, args.BuyerTokenID), makeTriple(args.NFTContractID, buyer, *token))
	ctx.require(td.BuyerID == buyer, "Paras: Caller not trade's buyer")
	ctx.require(s.deleteTrade(ctx, args.NFTContractID, buyer, *token, args.BuyerNFTContractID, args.BuyerTokenID) != nil, "Paras: Trade not found")
	ctx.logJSON(map[string]any{"type": "delete_trade", "params": map[string]any{
		"nft_contract_id":       args.NFTContractID,
		"buyer_id":              buyer,
		"token_id":              args.TokenID,
		"token_series_id":       args.TokenSeriesID,
		"buyer_nft_contract_id": args.BuyerNFTContractID,
		"buyer_token_id":        args.BuyerTokenID,
	}})
	return nil
}

func storageDeposit(ctx *callContext, s *marketState, raw []byte) any {
	var args struct {
		AccountID *string `json:"account_id"`
	}
	ctx.decode(raw, &args)
	account := ctx.predecessor
	if args.AccountID != nil {
		account = *args.AccountID
	}
	ctx.require(ctx.deposit.Cmp(StorageAddMarketData) >= 0, "Requires minimum deposit of %s", StorageAddMarketData)
	s.StorageDeposits[account] = s.StorageDeposits[account].Add(ctx.deposit)
	return nil
}

func storageWithdraw(ctx *callContext, s *marketState, _ []byte) any {
	ctx.assertOneYocto()
	owner := ctx.predecessor
	amount := s.StorageDeposits[owner]
	delete(s.StorageDeposits, owner)
	held := StorageAddMarketData.MulDiv(uint64(len(s.ByOwnerID[owner])), 1)
	free, ok := amount.Sub(held)
	if !ok {
		free = near.Amount{}
		held = amount
	}
	ctx.transfer(owner, free)
	if !held.IsZero() {
		s.StorageDeposits[owner] = held
	}
	return nil
}

func nftOnApprove(ctx *callContext, s *marketState, raw []byte) any {
	var args onApproveArgs
	ctx.decode(raw, &args)
	nftContract := ctx.predecessor
	ctx.require(nftContract != ctx.signer, "Paras: nft_on_approve should only be called via cross-contract call")
	ctx.require(args.OwnerID == ctx.signer, "Paras: owner_id should be signer_id")
	ctx.require(s.ApprovedNFT[nftContract], "Paras: nft_contract_id is not approved")

	var msg marketArgs
	if err := json.Unmarshal([]byte(args.Msg), &msg); err != nil {
		ctx.panicf("Not valid MarketArgs")
	}

	switch msg.MarketType {
	case "sale":
		ctx.require(msg.Price != nil, "Paras: price not specified")
		s.deleteMarketData(ctx, nftContract, args.TokenID)
		required := StorageAddMarketData.MulDiv(uint64(len(s.ByOwnerID[ctx.signer]))+1, 1)
		paid := s.StorageDeposits[ctx.signer]
		ctx.require(paid.Cmp(required) >= 0, "Insufficient storage paid: %s, for %d sales at %s rate of per sale",
			paid, len(s.ByOwnerID[ctx.signer])+1, StorageAddMarketData)
		ft := nearToken
		if msg.FTTokenID != nil {
			ft = *msg.FTTokenID
		}
		ctx.require(s.ApprovedFT[ft], "Paras: ft_token_id not approved")
		s.addMarketData(ctx, &marketData{
			OwnerID:       args.OwnerID,
			ApprovalID:    args.ApprovalID,
			NFTContractID: nftContract,
			TokenID:       args.TokenID,
			FTTokenID:     ft,
			Price:         *msg.Price,
			StartedAt:     msg.StartedAt,
			EndedAt:       msg.EndedAt,
			EndPrice:      msg.EndPrice,
			IsAuction:     msg.IsAuction,
		})

	case "add_trade":
		ctx.require(msg.SellerNFTContractID != nil, "Paras: seller_nft_contract_id is not specified")
		ctx.require(msg.SellerTokenID != nil || msg.SellerTokenSeriesID != nil, "Paras: seller token is not specified")
		token := msg.SellerTokenSeriesID
		if msg.SellerTokenID != nil {
			token = msg.SellerTokenID
		} else {
			ctx.require(s.ParasNFT[*msg.SellerNFTContractID], "Paras: trade series for Paras NFT only")
		}
		td := &tradeData{
			BuyerID:            args.OwnerID,
			NFTContractID:      *msg.SellerNFTContractID,
			TokenID:            msg.SellerTokenID,
			TokenSeriesID:      msg.SellerTokenSeriesID,
			BuyerNFTContractID: nftContract,
			BuyerTokenID:       args.TokenID,
			BuyerApprovalID:    args.ApprovalID,
		}
		key := makeTriple(td.NFTContractID, td.BuyerID, *token)
		buyerKey := makeTriple(nftContract, td.BuyerID, args.TokenID)
		list := s.Trades[buyerKey]
		if list == nil {
			list = &tradeList{TradeData: map[string]*tradeData{}}
			s.Trades[buyerKey] = list
		}
		list.ApprovalID = args.ApprovalID
		list.TradeData[key] = td
		s.addOwned(td.BuyerID, key+marketDelimiter+"trade")
		ctx.logJSON(map[string]any{"type": "add_trade", "params": td})

	case "accept_trade", "accept_trade_paras_series":
		ctx.require(msg.BuyerID != nil && msg.BuyerNFTContractID != nil && msg.BuyerTokenID != nil, "Paras: buyer is not specified")
		token := args.TokenID
		if msg.MarketType == "accept_trade_paras_series" {
			ctx.require(s.ParasNFT[nftContract], "Paras: accepting trade series for Paras NFT only")
			token, _, _ = strings.Cut(args.TokenID, tokenDelimiter)
		}
		buyer := *msg.BuyerID
		_, td := s.trade(ctx, makeTriple(*msg.BuyerNFTContractID, buyer, *msg.BuyerTokenID), makeTriple(nftContract, buyer, token))
		s.deleteTrade(ctx, nftContract, buyer, token, *msg.BuyerNFTContractID, *msg.BuyerTokenID)
		s.deleteMarketData(ctx, nftContract, args.TokenID)
		limit := uint32(maxPayout)
		toSeller := ctx.call(td.BuyerNFTContractID, "nft_transfer_payout", map[string]any{
			"receiver_id":    args.OwnerID,
			"token_id":       td.BuyerTokenID,
			"approval_id":    td.BuyerApprovalID,
			"max_len_payout": limit,
		}, near.OneYocto(), transferGas)
		toBuyer := ctx.call(nftContract, "nft_transfer_payout", map[string]any{
			"receiver_id":    td.BuyerID,
			"token_id":       args.TokenID,
			"approval_id":    args.ApprovalID,
			"max_len_payout": limit,
		}, near.OneYocto(), transferGas)
		ctx.schedule(toSeller.Then(toBuyer))
		ctx.logJSON(map[string]any{"type": "accept_trade", "params": map[string]any{
			"seller_id":       args.OwnerID,
			"buyer_id":        td.BuyerID,
			"nft_contract_id": nftContract,
			"token_id":        args.TokenID,
			"buyer_token_id":  td.BuyerTokenID,
		}})

	case "accept_offer", "accept_offer_paras_series":
		ctx.panicf("Paras: Offer does not exist")
	}
	return nil
}
