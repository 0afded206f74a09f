package market

import (
	"context"

	"NFTMarket-Harness/internal/web3/near"
)

// MarketplaceMethods lists the Paras marketplace interface.
var MarketplaceMethods = near.ContractMethods{
	ViewMethods: []string{
		"get_market_data",
		"get_trade",
		"approved_ft_token_ids",
		"approved_nft_contract_ids",
		"get_owner",
		"get_treasury",
		"get_supply_by_owner_id",
		"get_transaction_fee",
		"storage_minimum_balance",
		"storage_balance_of",
	},
	ChangeMethods: []string{
		"new",
		"storage_deposit",
		"storage_withdraw",
		"add_approved_ft_token_ids",
		"add_approved_nft_contract_ids",
		"add_approved_paras_nft_contract_ids",
		"remove_approved_nft_contract_ids",
		"set_treasury",
		"set_transaction_fee",
		"buy",
		"add_bid",
		"accept_bid",
		"update_market_data",
		"delete_market_data",
		"delete_trade",
	},
}

// InitArgs configures a fresh marketplace.
type InitArgs struct {
	OwnerID                string   `json:"owner_id"`
	TreasuryID             string   `json:"treasury_id"`
	ApprovedFTTokenIDs     []string `json:"approved_ft_token_ids,omitempty"`
	ApprovedNFTContractIDs []string `json:"approved_nft_contract_ids,omitempty"`
	ParasNFTContractIDs    []string `json:"paras_nft_contract_ids,omitempty"`
	CurrentFee             uint16   `json:"current_fee"`
}

// Marketplace is the Paras marketplace contract seen from one account.
type Marketplace struct {
	c *near.Contract
}

func NewMarketplace(signer *near.Account, contractID string) *Marketplace {
	return &Marketplace{c: near.NewContract(signer, contractID, MarketplaceMethods)}
}

func (m *Marketplace) ID() string { return m.c.ID() }

func (m *Marketplace) Signer() *near.Account { return m.c.Account() }

// As returns the same contract bound to another signer.
func (m *Marketplace) As(signer *near.Account) *Marketplace { return NewMarketplace(signer, m.ID()) }

func (m *Marketplace) Init(ctx context.Context, args InitArgs) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "new", args)
}

// AddApprovedNFTContractIDs is owner only and needs one yocto.
func (m *Marketplace) AddApprovedNFTContractIDs(ctx context.Context, ids ...string) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "add_approved_nft_contract_ids", map[string][]string{"nft_contract_ids": ids},
		near.WithDeposit(near.OneYocto()))
}

// StorageDeposit pays for listings of accountID; an empty id pays for the
// signer.
func (m *Marketplace) StorageDeposit(ctx context.Context, accountID string, amount near.Amount) (*near.FinalExecutionOutcome, error) {
	args := map[string]string{}
	if accountID != "" {
		args["account_id"] = accountID
	}
	return m.c.Call(ctx, "storage_deposit", args, near.WithDeposit(amount))
}

func (m *Marketplace) StorageWithdraw(ctx context.Context) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "storage_withdraw", nil, near.WithDeposit(near.OneYocto()))
}

// Buy pays price for a listed token. The promise chain settles the payout,
// so receipt failures are worth inspecting even when err is nil.
func (m *Marketplace) Buy(ctx context.Context, nftContractID, tokenID string, price near.Amount) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "buy", map[string]any{
		"nft_contract_id": nftContractID,
		"token_id":        tokenID,
		"ft_token_id":     NEAR,
		"price":           price,
	}, near.WithDeposit(price))
}

// AddBid bids amount on an auction and attaches it as deposit.
func (m *Marketplace) AddBid(ctx context.Context, nftContractID, tokenID string, amount near.Amount) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "add_bid", map[string]any{
		"nft_contract_id": nftContractID,
		"token_id":        tokenID,
		"ft_token_id":     NEAR,
		"amount":          amount,
	}, near.WithDeposit(amount))
}

func (m *Marketplace) AcceptBid(ctx context.Context, nftContractID, tokenID string) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "accept_bid", map[string]string{"nft_contract_id": nftContractID, "token_id": tokenID},
		near.WithDeposit(near.OneYocto()))
}

func (m *Marketplace) UpdatePrice(ctx context.Context, nftContractID, tokenID string, price near.Amount) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "update_market_data", map[string]any{
		"nft_contract_id": nftContractID,
		"token_id":        tokenID,
		"ft_token_id":     NEAR,
		"price":           price,
	}, near.WithDeposit(near.OneYocto()))
}

func (m *Marketplace) DeleteMarketData(ctx context.Context, nftContractID, tokenID string) (*near.FinalExecutionOutcome, error) {
	return m.c.Call(ctx, "delete_market_data", map[string]string{"nft_contract_id": nftContractID, "token_id": tokenID},
		near.WithDeposit(near.OneYocto()))
}

func (m *Marketplace) MarketData(ctx context.Context, nftContractID, tokenID string) (MarketData, error) {
	var md MarketData
	err := m.c.View(ctx, "get_market_data", map[string]string{"nft_contract_id": nftContractID, "token_id": tokenID}, &md)
	return md, err
}

// Trade looks up the offer of buyerTokenID for tokenID.
func (m *Marketplace) Trade(ctx context.Context, nftContractID, tokenID, buyerID, buyerContractID, buyerTokenID string) (TradeData, error) {
	var td TradeData
	err := m.c.View(ctx, "get_trade", map[string]string{
		"nft_contract_id":       nftContractID,
		"token_id":              tokenID,
		"buyer_id":              buyerID,
		"buyer_nft_contract_id": buyerContractID,
		"buyer_token_id":        buyerTokenID,
	}, &td)
	return td, err
}

func (m *Marketplace) Owner(ctx context.Context) (string, error) {
	var id string
	err := m.c.View(ctx, "get_owner", nil, &id)
	return id, err
}

func (m *Marketplace) Treasury(ctx context.Context) (string, error) {
	var id string
	err := m.c.View(ctx, "get_treasury", nil, &id)
	return id, err
}

func (m *Marketplace) TransactionFee(ctx context.Context) (TransactionFee, error) {
	var fee TransactionFee
	err := m.c.View(ctx, "get_transaction_fee", nil, &fee)
	return fee, err
}

func (m *Marketplace) ApprovedNFTContractIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.c.View(ctx, "approved_nft_contract_ids", nil, &ids)
	return ids, err
}

func (m *Marketplace) SupplyByOwnerID(ctx context.Context, accountID string) (uint64, error) {
	var n U64
	err := m.c.View(ctx, "get_supply_by_owner_id", map[string]string{"account_id": accountID}, &n)
	return uint64(n), err
}

func (m *Marketplace) StorageBalanceOf(ctx context.Context, accountID string) (near.Amount, error) {
	var amount near.Amount
	err := m.c.View(ctx, "storage_balance_of", map[string]string{"account_id": accountID}, &amount)
	return amount, err
}
