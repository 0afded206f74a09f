package sandbox

import (
	"strconv"
	"strings"

	"NFTMarket-Harness/internal/web3/near"
)

const (
	tokenDelimiter   = ":"
	titleDelimiter   = " - "
	editionDelimiter = "/"

	nftStandard  = "nep171"
	nftVersion   = "1.0.0"
	onApproveGas = 25_000_000_000_000
)

// StorageCost is the deposit taken for each created type or minted token.
var StorageCost = near.MustParseNEAR("0.01")

type contractMetadata struct {
	Spec    string  `json:"spec"`
	Name    string  `json:"name"`
	Symbol  string  `json:"symbol"`
	Icon    *string `json:"icon"`
	BaseURI *string `json:"base_uri"`
}

type tokenMetadata struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Media       *string `json:"media"`
	Copies      *uint64 `json:"copies"`
	IssuedAt    *string `json:"issued_at"`
	Extra       *string `json:"extra"`
	Reference   *string `json:"reference"`
}

type tokenType struct {
	TokenType  string        `json:"token_type"`
	OwnerID    string        `json:"owner_id"`
	Metadata   tokenMetadata `json:"metadata"`
	Price      *near.Amount  `json:"price"`
	IsMintable bool          `json:"is_mintable"`
	Minted     uint64        `json:"minted"`
	TokenIDs   []string      `json:"token_ids"`
}

type nftToken struct {
	TokenID   string            `json:"token_id"`
	OwnerID   string            `json:"owner_id"`
	TokenType string            `json:"token_type"`
	Metadata  tokenMetadata     `json:"metadata"`
	Approvals map[string]uint64 `json:"approved_account_ids"`
}

type seriesState struct {
	OwnerID        string                `json:"owner_id"`
	Metadata       contractMetadata      `json:"metadata"`
	Types          map[string]*tokenType `json:"types"`
	TypeOrder      []string              `json:"type_order"`
	NextTypeID     uint64                `json:"next_type_id"`
	Tokens         map[string]*nftToken  `json:"tokens"`
	TokenOrder     []string              `json:"token_order"`
	NextApprovalID uint64                `json:"next_approval_id"`
}

type typeView struct {
	TokenType  string        `json:"token_type"`
	OwnerID    string        `json:"owner_id"`
	Metadata   tokenMetadata `json:"metadata"`
	Price      *near.Amount  `json:"price"`
	IsMintable bool          `json:"is_mintable"`
	Supply     jsonU64       `json:"supply"`
}

type tokenView struct {
	TokenID   string            `json:"token_id"`
	OwnerID   string            `json:"owner_id"`
	Metadata  tokenMetadata     `json:"metadata"`
	Approvals map[string]uint64 `json:"approved_account_ids"`
}

// payout is the NEP-199 return value of nft_transfer_payout.
type payout struct {
	Payout map[string]near.Amount `json:"payout"`
}

func (t *tokenType) view() typeView {
	return typeView{
		TokenType:  t.TokenType,
		OwnerID:    t.OwnerID,
		Metadata:   t.Metadata,
		Price:      t.Price,
		IsMintable: t.IsMintable,
		Supply:     jsonU64(len(t.TokenIDs)),
	}
}

func (t *nftToken) view() tokenView {
	approvals := t.Approvals
	if approvals == nil {
		approvals = map[string]uint64{}
	}
	return tokenView{TokenID: t.TokenID, OwnerID: t.OwnerID, Metadata: t.Metadata, Approvals: approvals}
}

func newSeriesState(owner string, meta contractMetadata) *seriesState {
	return &seriesState{
		OwnerID:  owner,
		Metadata: meta,
		Types:    make(map[string]*tokenType),
		Tokens:   make(map[string]*nftToken),
	}
}

func (s *seriesState) assertOwner(ctx *callContext, action string) {
	ctx.require(ctx.predecessor == s.OwnerID, "Paras: Only owner can %s", action)
}

func (s *seriesState) tokenType(ctx *callContext, id string) *tokenType {
	t, ok := s.Types[id]
	ctx.require(ok, "Paras: Token type %s does not exist", id)
	return t
}

func (s *seriesState) token(ctx *callContext, id string) *nftToken {
	t, ok := s.Tokens[id]
	ctx.require(ok, "Paras: Token %s not found", id)
	return t
}

// payStorage keeps StorageCost of the attached deposit and refunds the rest.
func payStorage(ctx *callContext) {
	ctx.require(ctx.deposit.Cmp(StorageCost) >= 0, "Must attach %s yoctoNEAR to cover storage", StorageCost)
	refund, _ := ctx.deposit.Sub(StorageCost)
	ctx.transfer(ctx.predecessor, refund)
}

// mint issues the next edition of t to receiver.
func (s *seriesState) mint(ctx *callContext, t *tokenType, receiver string) *nftToken {
	ctx.require(t.IsMintable, "Paras: Token type %s is not mintable", t.TokenType)
	if t.Metadata.Copies != nil {
		ctx.require(uint64(len(t.TokenIDs)) < *t.Metadata.Copies, "Paras: Token type %s copies exceeded", t.TokenType)
	}
	t.Minted++
	id := t.TokenType + tokenDelimiter + strconv.FormatUint(t.Minted, 10)
	meta := t.Metadata
	issued := strconv.FormatUint(ctx.timestamp/1_000_000, 10)
	meta.IssuedAt = &issued
	tok := &nftToken{TokenID: id, OwnerID: receiver, TokenType: t.TokenType, Metadata: meta, Approvals: map[string]uint64{}}
	s.Tokens[id] = tok
	s.TokenOrder = append(s.TokenOrder, id)
	t.TokenIDs = append(t.TokenIDs, id)
	ctx.emit(nftStandard, nftVersion, "nft_mint", []map[string]any{{"owner_id": receiver, "token_ids": []string{id}}})
	return tok
}

// transfer moves a token on behalf of sender, who is the owner or an
// approved account. It returns the previous owner.
func (s *seriesState) transfer(ctx *callContext, sender, receiver, tokenID string, approvalID *uint64, memo *string) string {
	tok := s.token(ctx, tokenID)
	owner := tok.OwnerID
	var authorized *string
	if sender != owner {
		approved, ok := tok.Approvals[sender]
		ctx.require(ok, "Paras: Unauthorized")
		if approvalID != nil {
			ctx.require(approved == *approvalID, "The actual approval_id %d is different from the given approval_id %d", approved, *approvalID)
		}
		authorized = &sender
	}
	ctx.require(receiver != owner, "The token owner and the receiver should be different")
	tok.OwnerID = receiver
	tok.Approvals = map[string]uint64{}
	ctx.emit(nftStandard, nftVersion, "nft_transfer", []map[string]any{{
		"authorized_id": authorized,
		"old_owner_id":  owner,
		"new_owner_id":  receiver,
		"token_ids":     []string{tokenID},
		"memo":          memo,
	}})
	return owner
}

func (s *seriesState) ownedBy(account string) []*nftToken {
	var out []*nftToken
	for _, id := range s.TokenOrder {
		if tok := s.Tokens[id]; tok.OwnerID == account {
			out = append(out, tok)
		}
	}
	return out
}

func tokenViews(tokens []*nftToken, from *jsonU64, limit *uint64) []tokenView {
	start, end := window(len(tokens), from, limit, 50)
	out := make([]tokenView, 0, end-start)
	for _, tok := range tokens[start:end] {
		out = append(out, tok.view())
	}
	return out
}

type (
	ownerArgs struct {
		OwnerID  string            `json:"owner_id"`
		Metadata *contractMetadata `json:"metadata"`
	}
	createTypeArgs struct {
		TokenType     string        `json:"token_type"`
		TokenMetadata tokenMetadata `json:"token_metadata"`
		Price         *near.Amount  `json:"price"`
	}
	typeArgs struct {
		TokenType     string       `json:"token_type"`
		TokenSeriesID string       `json:"token_series_id"`
		ReceiverID    string       `json:"receiver_id"`
		AccountID     string       `json:"account_id"`
		IsMintable    *bool        `json:"is_mintable"`
		Price         *near.Amount `json:"price"`
		FromIndex     *jsonU64     `json:"from_index"`
		Limit         *uint64      `json:"limit"`
	}
	tokenArgs struct {
		TokenID           string       `json:"token_id"`
		ReceiverID        string       `json:"receiver_id"`
		AccountID         string       `json:"account_id"`
		ApprovedAccountID string       `json:"approved_account_id"`
		ApprovalID        *uint64      `json:"approval_id"`
		Memo              *string      `json:"memo"`
		Msg               *string      `json:"msg"`
		Balance           *near.Amount `json:"balance"`
		MaxLenPayout      *uint32      `json:"max_len_payout"`
		FromIndex         *jsonU64     `json:"from_index"`
		Limit             *uint64      `json:"limit"`
	}
)

func (a typeArgs) id() string {
	if a.TokenType != "" {
		return a.TokenType
	}
	return a.TokenSeriesID
}

// newNFTSeries is the NFT series contract: owner-created token types that
// are minted as numbered editions <type>:<n>.
func newNFTSeries() program {
	return &contract[seriesState]{
		inits: map[string]initFunc[seriesState]{
			"new_default_meta": func(ctx *callContext, raw []byte) *seriesState {
				var args ownerArgs
				ctx.decode(raw, &args)
				ctx.require(args.OwnerID != "", "owner_id is required")
				return newSeriesState(args.OwnerID, contractMetadata{Spec: "nft-1.0.0", Name: "NFT Series", Symbol: "SERIES"})
			},
			"new": func(ctx *callContext, raw []byte) *seriesState {
				var args ownerArgs
				ctx.decode(raw, &args)
				ctx.require(args.OwnerID != "", "owner_id is required")
				ctx.require(args.Metadata != nil, "metadata is required")
				return newSeriesState(args.OwnerID, *args.Metadata)
			},
		},
		changes: map[string]changeFunc[seriesState]{
			"nft_create_type":       nftCreateType,
			"nft_mint_type":         nftMintType,
			"nft_buy":               nftBuy,
			"nft_set_type_mintable": nftSetTypeMintable,
			"nft_set_type_price":    nftSetTypePrice,
			"nft_transfer":          nftTransfer,
			"nft_transfer_payout":   nftTransferPayout,
			"nft_approve":           nftApprove,
			"nft_revoke":            nftRevoke,
			"nft_revoke_all":        nftRevokeAll,
		},
		views: map[string]viewFunc[seriesState]{
			"nft_metadata": func(_ *callContext, s *seriesState, _ []byte) any { return s.Metadata },
			"nft_get_type_format": func(*callContext, *seriesState, []byte) any {
				return []string{tokenDelimiter, titleDelimiter, editionDelimiter}
			},
			"nft_get_type_info": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				t := s.tokenType(ctx, args.id())
				return []any{t.TokenType, t.OwnerID, t.Metadata}
			},
			"nft_get_type": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				return s.tokenType(ctx, args.id()).view()
			},
			"nft_get_types": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				start, end := window(len(s.TypeOrder), args.FromIndex, args.Limit, 50)
				out := make([]typeView, 0, end-start)
				for _, id := range s.TypeOrder[start:end] {
					out = append(out, s.Types[id].view())
				}
				return out
			},
			"nft_supply_for_type": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				return jsonU64(len(s.tokenType(ctx, args.id()).TokenIDs))
			},
			"nft_tokens_by_type": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				t := s.tokenType(ctx, args.id())
				tokens := make([]*nftToken, 0, len(t.TokenIDs))
				for _, id := range t.TokenIDs {
					tokens = append(tokens, s.Tokens[id])
				}
				return tokenViews(tokens, args.FromIndex, args.Limit)
			},
			"nft_type_balance": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args typeArgs
				ctx.decode(raw, &args)
				t := s.tokenType(ctx, args.id())
				var n uint64
				for _, id := range t.TokenIDs {
					if s.Tokens[id].OwnerID == args.AccountID {
						n++
					}
				}
				return jsonU64(n)
			},
			"nft_token": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args tokenArgs
				ctx.decode(raw, &args)
				tok, ok := s.Tokens[args.TokenID]
				if !ok {
					return nil
				}
				return tok.view()
			},
			"nft_tokens": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args tokenArgs
				ctx.decode(raw, &args)
				tokens := make([]*nftToken, 0, len(s.TokenOrder))
				for _, id := range s.TokenOrder {
					tokens = append(tokens, s.Tokens[id])
				}
				return tokenViews(tokens, args.FromIndex, args.Limit)
			},
			"nft_tokens_for_owner": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args tokenArgs
				ctx.decode(raw, &args)
				return tokenViews(s.ownedBy(args.AccountID), args.FromIndex, args.Limit)
			},
			"nft_supply_for_owner": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args tokenArgs
				ctx.decode(raw, &args)
				return jsonU64(len(s.ownedBy(args.AccountID)))
			},
			"nft_total_supply": func(_ *callContext, s *seriesState, _ []byte) any {
				return jsonU64(len(s.TokenOrder))
			},
			"nft_is_approved": func(ctx *callContext, s *seriesState, raw []byte) any {
				var args tokenArgs
				ctx.decode(raw, &args)
				tok := s.token(ctx, args.TokenID)
				approved, ok := tok.Approvals[args.ApprovedAccountID]
				if !ok {
					return false
				}
				return args.ApprovalID == nil || *args.ApprovalID == approved
			},
		},
	}
}

func nftCreateType(ctx *callContext, s *seriesState, raw []byte) any {
	var args createTypeArgs
	ctx.decode(raw, &args)
	s.assertOwner(ctx, "create type")
	payStorage(ctx)

	id := strings.TrimSpace(args.TokenType)
	if id == "" {
		id = strconv.FormatUint(s.NextTypeID+1, 10)
	}
	ctx.require(!strings.Contains(id, tokenDelimiter), "Paras: Token type cannot contain %q", tokenDelimiter)
	_, exists := s.Types[id]
	ctx.require(!exists, "Paras: Token type %s already exists", id)
	if args.TokenMetadata.Title == nil {
		title := id
		args.TokenMetadata.Title = &title
	}
	if args.TokenMetadata.Copies != nil {
		ctx.require(*args.TokenMetadata.Copies > 0, "Paras: copies must be positive")
	}

	s.NextTypeID++
	t := &tokenType{
		TokenType:  id,
		OwnerID:    ctx.predecessor,
		Metadata:   args.TokenMetadata,
		Price:      args.Price,
		IsMintable: true,
		TokenIDs:   []string{},
	}
	s.Types[id] = t
	s.TypeOrder = append(s.TypeOrder, id)
	ctx.logJSON(map[string]any{"type": "nft_create_type", "params": t.view()})
	return t.view()
}

func nftMintType(ctx *callContext, s *seriesState, raw []byte) any {
	var args typeArgs
	ctx.decode(raw, &args)
	s.assertOwner(ctx, "mint")
	payStorage(ctx)
	t := s.tokenType(ctx, args.id())
	receiver := args.ReceiverID
	if receiver == "" {
		receiver = ctx.predecessor
	}
	return s.mint(ctx, t, receiver).view()
}

func nftBuy(ctx *callContext, s *seriesState, raw []byte) any {
	var args typeArgs
	ctx.decode(raw, &args)
	t := s.tokenType(ctx, args.id())
	ctx.require(t.Price != nil, "Paras: Token type %s is not for sale", t.TokenType)
	price := *t.Price
	ctx.require(ctx.deposit.Cmp(price) >= 0, "Paras: Attached deposit is less than price %s", price)

	receiver := args.ReceiverID
	if receiver == "" {
		receiver = ctx.predecessor
	}
	tok := s.mint(ctx, t, receiver)
	if t.OwnerID != ctx.current {
		ctx.transfer(t.OwnerID, price)
	}
	refund, _ := ctx.deposit.Sub(price)
	ctx.transfer(ctx.predecessor, refund)
	return tok.TokenID
}

func nftSetTypeMintable(ctx *callContext, s *seriesState, raw []byte) any {
	var args typeArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	s.assertOwner(ctx, "set type mintable")
	ctx.require(args.IsMintable != nil, "is_mintable is required")
	s.tokenType(ctx, args.id()).IsMintable = *args.IsMintable
	return nil
}

func nftSetTypePrice(ctx *callContext, s *seriesState, raw []byte) any {
	var args typeArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	s.assertOwner(ctx, "set type price")
	s.tokenType(ctx, args.id()).Price = args.Price
	return nil
}

func nftTransfer(ctx *callContext, s *seriesState, raw []byte) any {
	var args tokenArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	s.transfer(ctx, ctx.predecessor, args.ReceiverID, args.TokenID, args.ApprovalID, args.Memo)
	return nil
}

func nftTransferPayout(ctx *callContext, s *seriesState, raw []byte) any {
	var args tokenArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	if args.MaxLenPayout != nil {
		ctx.require(*args.MaxLenPayout >= 1, "Paras: max_len_payout must be at least 1")
	}
	prev := s.transfer(ctx, ctx.predecessor, args.ReceiverID, args.TokenID, args.ApprovalID, args.Memo)
	if args.Balance == nil {
		return nil
	}
	return payout{Payout: map[string]near.Amount{prev: *args.Balance}}
}

func nftApprove(ctx *callContext, s *seriesState, raw []byte) any {
	var args tokenArgs
	ctx.decode(raw, &args)
	ctx.assertAtLeastOneYocto()
	tok := s.token(ctx, args.TokenID)
	ctx.require(tok.OwnerID == ctx.predecessor, "Paras: Predecessor must be token owner")
	ctx.require(args.AccountID != "", "account_id is required")

	s.NextApprovalID++
	approvalID := s.NextApprovalID
	if tok.Approvals == nil {
		tok.Approvals = map[string]uint64{}
	}
	tok.Approvals[args.AccountID] = approvalID
	if args.Msg == nil {
		return nil
	}
	return ctx.schedule(ctx.call(args.AccountID, "nft_on_approve", map[string]any{
		"token_id":    args.TokenID,
		"owner_id":    tok.OwnerID,
		"approval_id": approvalID,
		"msg":         *args.Msg,
	}, near.Amount{}, onApproveGas))
}

func nftRevoke(ctx *callContext, s *seriesState, raw []byte) any {
	var args tokenArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	tok := s.token(ctx, args.TokenID)
	ctx.require(tok.OwnerID == ctx.predecessor, "Paras: Predecessor must be token owner")
	delete(tok.Approvals, args.AccountID)
	return nil
}

func nftRevokeAll(ctx *callContext, s *seriesState, raw []byte) any {
	var args tokenArgs
	ctx.decode(raw, &args)
	ctx.assertOneYocto()
	tok := s.token(ctx, args.TokenID)
	ctx.require(tok.OwnerID == ctx.predecessor, "Paras: Predecessor must be token owner")
	tok.Approvals = map[string]uint64{}
	return nil
}
