package market

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3/near"
)

// SeriesMethods lists the NFT series contract interface.
var SeriesMethods = near.ContractMethods{
	ViewMethods: []string{
		"nft_metadata",
		"nft_get_type_info",
		"nft_get_type",
		"nft_get_types",
		"nft_get_type_format",
		"nft_supply_for_type",
		"nft_tokens_by_type",
		"nft_type_balance",
		"nft_token",
		"nft_tokens",
		"nft_tokens_for_owner",
		"nft_supply_for_owner",
		"nft_total_supply",
		"nft_is_approved",
	},
	ChangeMethods: []string{
		"new_default_meta",
		"nft_create_type",
		"nft_mint_type",
		"nft_buy",
		"nft_set_type_mintable",
		"nft_set_type_price",
		"nft_transfer",
		"nft_approve",
		"nft_revoke",
	},
}

// Series is the NFT series contract seen from one account.
type Series struct {
	c *near.Contract
}

// NewSeries binds the series contract at contractID to signer.
func NewSeries(signer *near.Account, contractID string) *Series {
	return &Series{c: near.NewContract(signer, contractID, SeriesMethods)}
}

func (s *Series) ID() string { return s.c.ID() }

func (s *Series) Signer() *near.Account { return s.c.Account() }

// As returns the same contract bound to another signer.
func (s *Series) As(signer *near.Account) *Series { return NewSeries(signer, s.ID()) }

// Init runs new_default_meta.
func (s *Series) Init(ctx context.Context, ownerID string) (*near.FinalExecutionOutcome, error) {
	return s.c.Call(ctx, "new_default_meta", map[string]string{"owner_id": ownerID})
}

// CreateType registers a token type priced at price; a nil price makes the
// type mint-only.
func (s *Series) CreateType(ctx context.Context, tokenType string, meta TokenMetadata, price *near.Amount) (*near.FinalExecutionOutcome, error) {
	args := map[string]any{"token_type": tokenType, "token_metadata": meta}
	if price != nil {
		args["price"] = price
	}
	return s.c.Call(ctx, "nft_create_type", args, near.WithDeposit(CreateTypeDeposit))
}

// MintType mints the next edition of tokenType to receiverID and returns the
// new token id.
func (s *Series) MintType(ctx context.Context, tokenType, receiverID string) (string, *near.FinalExecutionOutcome, error) {
	out, err := s.c.Call(ctx, "nft_mint_type", map[string]string{"token_type": tokenType, "receiver_id": receiverID},
		near.WithDeposit(MintDeposit))
	if err != nil {
		return "", out, err
	}
	var tok Token
	if err := out.DecodeValue(&tok); err != nil {
		return "", out, err
	}
	return tok.TokenID, out, nil
}

// Buy pays deposit for the next edition of tokenType. The token id is read
// from the nft_mint event.
func (s *Series) Buy(ctx context.Context, tokenType, receiverID string, deposit near.Amount) (string, *near.FinalExecutionOutcome, error) {
	out, err := s.c.Call(ctx, "nft_buy", map[string]string{"token_type": tokenType, "receiver_id": receiverID},
		near.WithDeposit(deposit))
	if err != nil {
		return "", out, err
	}
	ids := out.EventTokenIDs("nft_mint")
	if len(ids) == 0 {
		return "", out, xerrors.New(xerrors.CodeNotFound, "nft_buy emitted no nft_mint event",
			xerrors.WithMetadata("hash", out.Hash()))
	}
	return ids[len(ids)-1], out, nil
}

func (s *Series) SetTypeMintable(ctx context.Context, tokenType string, mintable bool) (*near.FinalExecutionOutcome, error) {
	return s.c.Call(ctx, "nft_set_type_mintable", map[string]any{"token_type": tokenType, "is_mintable": mintable},
		near.WithDeposit(near.OneYocto()))
}

// TransferRequest builds an nft_transfer for batching.
func (s *Series) TransferRequest(tokenID, receiverID string) (near.FunctionCallRequest, error) {
	return s.c.Request("nft_transfer", map[string]string{"token_id": tokenID, "receiver_id": receiverID},
		near.WithDeposit(near.OneYocto()))
}

func (s *Series) Transfer(ctx context.Context, tokenID, receiverID string) (*near.FinalExecutionOutcome, error) {
	req, err := s.TransferRequest(tokenID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.Signer().FunctionCall(ctx, req)
}

// ApproveRequest builds an nft_approve carrying msg to accountID for batching.
func (s *Series) ApproveRequest(tokenID, accountID string, msg any) (near.FunctionCallRequest, error) {
	args := map[string]string{"token_id": tokenID, "account_id": accountID}
	if msg != nil {
		raw, err := json.Marshal(msg)
		if err != nil {
			return near.FunctionCallRequest{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode approve msg")
		}
		args["msg"] = string(raw)
	}
	return s.c.Request("nft_approve", args, near.WithDeposit(ApproveDeposit))
}

// Approve approves accountID for tokenID; a marketplace reacts to msg in
// nft_on_approve.
func (s *Series) Approve(ctx context.Context, tokenID, accountID string, msg any) (*near.FinalExecutionOutcome, error) {
	req, err := s.ApproveRequest(tokenID, accountID, msg)
	if err != nil {
		return nil, err
	}
	return s.Signer().FunctionCall(ctx, req)
}

func (s *Series) Revoke(ctx context.Context, tokenID, accountID string) (*near.FinalExecutionOutcome, error) {
	return s.c.Call(ctx, "nft_revoke", map[string]string{"token_id": tokenID, "account_id": accountID},
		near.WithDeposit(near.OneYocto()))
}

// Batch signs all requests into one transaction to the contract. Requests
// without gas get BatchActionGas each.
func (s *Series) Batch(ctx context.Context, reqs ...near.FunctionCallRequest) (*near.FinalExecutionOutcome, error) {
	for _, req := range reqs {
		if req.ContractID != s.ID() {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("batched call to %s in a transaction to %s", req.ContractID, s.ID()))
		}
	}
	reqs, err := batchGas(reqs)
	if err != nil {
		return nil, err
	}
	actions, err := s.Signer().FunctionCallActions(reqs...)
	if err != nil {
		return nil, err
	}
	return s.Signer().SignAndSendTransaction(ctx, s.ID(), actions...)
}

// batchGas fills unset gas with BatchActionGas and keeps the total prepaid
// gas within MaxTransactionGas.
func batchGas(reqs []near.FunctionCallRequest) ([]near.FunctionCallRequest, error) {
	out := make([]near.FunctionCallRequest, len(reqs))
	var total uint64
	for i, req := range reqs {
		if req.Gas == 0 {
			req.Gas = BatchActionGas
		}
		total += req.Gas
		out[i] = req
	}
	if total > MaxTransactionGas {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("batch prepays %d gas, over the %d transaction limit", total, MaxTransactionGas),
			xerrors.WithMetadata("calls", fmt.Sprint(len(reqs))))
	}
	return out, nil
}

func (s *Series) TypeInfo(ctx context.Context, tokenType string) (TypeInfo, error) {
	var info TypeInfo
	err := s.c.View(ctx, "nft_get_type_info", map[string]string{"token_type": tokenType}, &info)
	return info, err
}

func (s *Series) Type(ctx context.Context, tokenType string) (TokenType, error) {
	var t TokenType
	err := s.c.View(ctx, "nft_get_type", map[string]string{"token_type": tokenType}, &t)
	return t, err
}

func (s *Series) Types(ctx context.Context, fromIndex, limit uint64) ([]TokenType, error) {
	var types []TokenType
	err := s.c.View(ctx, "nft_get_types", map[string]any{"from_index": U64(fromIndex), "limit": limit}, &types)
	return types, err
}

func (s *Series) TypeFormat(ctx context.Context) (TypeFormat, error) {
	var f TypeFormat
	err := s.c.View(ctx, "nft_get_type_format", nil, &f)
	return f, err
}

func (s *Series) SupplyForType(ctx context.Context, tokenType string) (uint64, error) {
	var n U64
	err := s.c.View(ctx, "nft_supply_for_type", map[string]string{"token_type": tokenType}, &n)
	return uint64(n), err
}

func (s *Series) TokensByType(ctx context.Context, tokenType string) ([]Token, error) {
	var tokens []Token
	err := s.c.View(ctx, "nft_tokens_by_type", map[string]string{"token_type": tokenType}, &tokens)
	return tokens, err
}

// TypeBalance counts the editions of tokenType held by accountID. The
// contract answers with a decimal string.
func (s *Series) TypeBalance(ctx context.Context, accountID, tokenType string) (string, error) {
	var n string
	err := s.c.View(ctx, "nft_type_balance", map[string]string{"account_id": accountID, "token_type": tokenType}, &n)
	return n, err
}

// Token returns the token, or nil when it does not exist.
func (s *Series) Token(ctx context.Context, tokenID string) (*Token, error) {
	var tok *Token
	err := s.c.View(ctx, "nft_token", map[string]string{"token_id": tokenID}, &tok)
	return tok, err
}

func (s *Series) TokensForOwner(ctx context.Context, accountID string) ([]Token, error) {
	var tokens []Token
	err := s.c.View(ctx, "nft_tokens_for_owner", map[string]string{"account_id": accountID}, &tokens)
	return tokens, err
}
