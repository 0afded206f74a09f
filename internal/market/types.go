package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"NFTMarket-Harness/internal/web3/near"
)

// Deposits the contracts expect for the calls the scenarios make.
var (
	CreateTypeDeposit = near.MustParseNEAR("0.1")
	MintDeposit       = near.MustParseNEAR("0.1")
	ApproveDeposit    = near.MustParseYocto("440000000000000000000")
	// StorageDeposit covers one listing on the marketplace.
	StorageDeposit = near.MustParseYocto("8590000000000000000000")
)

// Gas limits for batched transactions.
const (
	MaxTransactionGas uint64 = 300_000_000_000_000
	BatchActionGas    uint64 = 100_000_000_000_000
)

// NEAR is the ft_token_id of listings paid in native NEAR.
const NEAR = "near"

// U64 is a u64 that travels as a JSON string.
type U64 uint64

func (v U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(v), 10))
}

func (v *U64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return err
	}
	*v = U64(n)
	return nil
}

// Nanos converts t to a block timestamp.
func Nanos(t time.Time) U64 { return U64(t.UnixNano()) }

// TokenMetadata is the NEP-177 token metadata subset the series contract keeps.
type TokenMetadata struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Media       string  `json:"media,omitempty"`
	Copies      *uint64 `json:"copies,omitempty"`
	IssuedAt    string  `json:"issued_at,omitempty"`
	Extra       string  `json:"extra,omitempty"`
	Reference   string  `json:"reference,omitempty"`
}

// TokenType is returned by nft_get_type and nft_get_types.
type TokenType struct {
	TokenType  string        `json:"token_type"`
	OwnerID    string        `json:"owner_id"`
	Metadata   TokenMetadata `json:"metadata"`
	Price      *near.Amount  `json:"price"`
	IsMintable bool          `json:"is_mintable"`
	Supply     U64           `json:"supply"`
}

// TypeInfo is the positional answer of nft_get_type_info.
type TypeInfo struct {
	TokenType string
	OwnerID   string
	Metadata  TokenMetadata
}

func (t *TypeInfo) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("expected 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &t.TokenType); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &t.OwnerID); err != nil {
		return err
	}
	return json.Unmarshal(parts[2], &t.Metadata)
}

// TypeFormat holds the delimiters returned by nft_get_type_format.
type TypeFormat struct {
	Token   string
	Title   string
	Edition string
}

func (f *TypeFormat) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("expected 3 elements, got %d", len(parts))
	}
	f.Token, f.Title, f.Edition = parts[0], parts[1], parts[2]
	return nil
}

// Token is the NEP-171 token view.
type Token struct {
	TokenID   string            `json:"token_id"`
	OwnerID   string            `json:"owner_id"`
	Metadata  TokenMetadata     `json:"metadata"`
	Approvals map[string]uint64 `json:"approved_account_ids"`
}

// TokenID joins a type and an edition the way the series contract does.
func TokenID(tokenType string, edition uint64) string {
	return tokenType + ":" + strconv.FormatUint(edition, 10)
}

// Bid is one auction bid.
type Bid struct {
	BidderID string      `json:"bidder_id"`
	Price    near.Amount `json:"price"`
}

// MarketData is a marketplace listing. Bids is non-nil for auctions.
type MarketData struct {
	OwnerID       string       `json:"owner_id"`
	ApprovalID    uint64       `json:"approval_id"`
	NFTContractID string       `json:"nft_contract_id"`
	TokenID       string       `json:"token_id"`
	FTTokenID     string       `json:"ft_token_id"`
	Price         near.Amount  `json:"price"`
	Bids          []Bid        `json:"bids"`
	StartedAt     *U64         `json:"started_at"`
	EndedAt       *U64         `json:"ended_at"`
	EndPrice      *near.Amount `json:"end_price"`
	IsAuction     *bool        `json:"is_auction"`
}

// TopBid returns the highest bid, if any.
func (m MarketData) TopBid() (Bid, bool) {
	if len(m.Bids) == 0 {
		return Bid{}, false
	}
	return m.Bids[len(m.Bids)-1], true
}

// TradeData is one pending trade offer.
type TradeData struct {
	BuyerID            string  `json:"buyer_id"`
	NFTContractID      string  `json:"nft_contract_id"`
	TokenID            *string `json:"token_id"`
	TokenSeriesID      *string `json:"token_series_id"`
	BuyerNFTContractID string  `json:"buyer_nft_contract_id"`
	BuyerTokenID       string  `json:"buyer_token_id"`
	BuyerApprovalID    uint64  `json:"buyer_approval_id"`
}

// TransactionFee is the marketplace fee schedule in basis points.
type TransactionFee struct {
	NextFee    *uint16 `json:"next_fee"`
	StartTime  *uint64 `json:"start_time"`
	CurrentFee uint16  `json:"current_fee"`
}

// Fee returns the treasury share of price under the current fee.
func (f TransactionFee) Fee(price near.Amount) near.Amount {
	return price.MulDiv(uint64(f.CurrentFee), 10_000)
}

// SaleMsg is the nft_approve msg that lists a token.
type SaleMsg struct {
	MarketType string       `json:"market_type"`
	Price      near.Amount  `json:"price"`
	FTTokenID  string       `json:"ft_token_id"`
	StartedAt  *U64         `json:"started_at,omitempty"`
	EndedAt    *U64         `json:"ended_at,omitempty"`
	EndPrice   *near.Amount `json:"end_price,omitempty"`
	IsAuction  bool         `json:"is_auction,omitempty"`
}

// NewSale lists a token at a fixed price in NEAR.
func NewSale(price near.Amount) SaleMsg {
	return SaleMsg{MarketType: "sale", Price: price, FTTokenID: NEAR}
}

// NewAuction lists a token for bids above price until endedAt.
func NewAuction(price near.Amount, endedAt time.Time) SaleMsg {
	end := Nanos(endedAt)
	return SaleMsg{MarketType: "sale", Price: price, FTTokenID: NEAR, EndedAt: &end, IsAuction: true}
}

// AddTradeMsg offers the approved token for the seller's token.
type AddTradeMsg struct {
	MarketType          string `json:"market_type"`
	SellerNFTContractID string `json:"seller_nft_contract_id"`
	SellerTokenID       string `json:"seller_token_id"`
}

func NewAddTrade(sellerContractID, sellerTokenID string) AddTradeMsg {
	return AddTradeMsg{MarketType: "add_trade", SellerNFTContractID: sellerContractID, SellerTokenID: sellerTokenID}
}

// AcceptTradeMsg accepts a pending offer of buyerTokenID.
type AcceptTradeMsg struct {
	MarketType         string `json:"market_type"`
	BuyerID            string `json:"buyer_id"`
	BuyerNFTContractID string `json:"buyer_nft_contract_id"`
	BuyerTokenID       string `json:"buyer_token_id"`
}

func NewAcceptTrade(buyerID, buyerContractID, buyerTokenID string) AcceptTradeMsg {
	return AcceptTradeMsg{MarketType: "accept_trade", BuyerID: buyerID, BuyerNFTContractID: buyerContractID, BuyerTokenID: buyerTokenID}
}
