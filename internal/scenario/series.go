package scenario

import (
	"context"

	"NFTMarket-Harness/internal/market"
	"NFTMarket-Harness/internal/web3/near"
)

const typesPageSize = 100

var typePrice = near.MustParseNEAR("1")

// Series exercises the NFT series contract: type creation, owner-only
// minting, supply accounting, purchases and the mintable switch.
var Series = Scenario{
	Name:        "series",
	Description: "create, mint, buy and lock token types on the NFT series contract",
	steps: []string{
		"deploy nft contract",
		"init nft contract",
		"create guest account",
		"owner creates type",
		"type info matches",
		"type is listed",
		"non-owner cannot create type",
		"duplicate type rejected",
		"non-owner cannot mint",
		"read supply",
		"owner mints",
		"mint adds one to supply",
		"type format has three delimiters",
		"guest buys token",
		"guest owns bought token",
		"owner disables minting",
		"mint after disable rejected",
		"buy after disable rejected",
		"owner creates single copy type",
		"first copy mints",
		"second copy rejected",
	},
	run:         runSeries,
}

func runSeries(ctx context.Context, env *Env, r *recorder) {
	if !r.must(r.check("deploy nft contract", func(ctx context.Context) error {
		_, err := env.EnsureContract(ctx, env.NFTID, env.Code.NFT)
		return err
	})) {
		return
	}
	owner := env.Series(env.Conn.Account(env.NFTID))
	if !r.must(r.call("init nft contract", ExpectSuccess(alreadyInitialized), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return owner.Init(ctx, env.NFTID)
	})) {
		return
	}

	var guest *near.Account
	if !r.must(r.check("create guest account", func(ctx context.Context) error {
		accounts, err := env.CreateAccounts(ctx, "guest")
		if err != nil {
			return err
		}
		guest = accounts[0]
		return nil
	})) {
		return
	}
	asGuest := owner.As(guest)

	tokenType := UniqueName("dog")
	copies := uint64(10)
	meta := market.TokenMetadata{
		Title:       tokenType,
		Description: "harness token type",
		Media:       "https://placedog.net/500",
		Copies:      &copies,
	}
	if !r.must(r.call("owner creates type", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return owner.CreateType(ctx, tokenType, meta, &typePrice)
	})) {
		return
	}

	r.check("type info matches", func(ctx context.Context) error {
		info, err := owner.TypeInfo(ctx, tokenType)
		if err != nil {
			return err
		}
		if info.TokenType != tokenType || info.OwnerID != env.NFTID {
			return assertionError("type info = (%s, %s), want (%s, %s)", info.TokenType, info.OwnerID, tokenType, env.NFTID)
		}
		if info.Metadata.Copies == nil || *info.Metadata.Copies != copies {
			return assertionError("type info copies = %v, want %d", info.Metadata.Copies, copies)
		}
		return nil
	})
	r.check("type is listed", func(ctx context.Context) error {
		found, err := listedType(ctx, owner, tokenType)
		if err != nil {
			return err
		}
		if found == nil {
			return assertionError("nft_get_types does not list %s", tokenType)
		}
		if !found.IsMintable {
			return assertionError("new type %s is not mintable", tokenType)
		}
		return nil
	})

	r.call("non-owner cannot create type", ExpectRejection("Only owner"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return asGuest.CreateType(ctx, UniqueName("cat"), market.TokenMetadata{Title: "cat"}, &typePrice)
	})
	r.call("duplicate type rejected", ExpectRejection("already exists"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return owner.CreateType(ctx, tokenType, meta, &typePrice)
	})
	r.call("non-owner cannot mint", ExpectRejection("Only owner"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		_, out, err := asGuest.MintType(ctx, tokenType, guest.ID())
		return out, err
	})

	var supply uint64
	if !r.must(r.check("read supply", func(ctx context.Context) (err error) {
		supply, err = owner.SupplyForType(ctx, tokenType)
		return err
	})) {
		return
	}
	var minted string
	if !r.must(r.call("owner mints", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		id, out, err := owner.MintType(ctx, tokenType, env.NFTID)
		minted = id
		return out, err
	})) {
		return
	}
	r.check("mint adds one to supply", func(ctx context.Context) error {
		after, err := owner.SupplyForType(ctx, tokenType)
		if err != nil {
			return err
		}
		if after != supply+1 {
			return assertionError("supply after mint = %d, want %d", after, supply+1)
		}
		if want := market.TokenID(tokenType, supply+1); minted != want {
			return assertionError("minted token id = %s, want %s", minted, want)
		}
		return nil
	})
	r.check("type format has three delimiters", func(ctx context.Context) error {
		format, err := owner.TypeFormat(ctx)
		if err != nil {
			return err
		}
		if format.Token == "" || format.Title == "" || format.Edition == "" {
			return assertionError("type format = %+v", format)
		}
		return nil
	})

	var bought string
	if r.call("guest buys token", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		id, out, err := asGuest.Buy(ctx, tokenType, guest.ID(), typePrice)
		bought = id
		return out, err
	}) {
		r.check("guest owns bought token", func(ctx context.Context) error {
			if want := market.TokenID(tokenType, supply+2); bought != want {
				return assertionError("bought token id = %s, want %s", bought, want)
			}
			balance, err := owner.TypeBalance(ctx, guest.ID(), tokenType)
			if err != nil {
				return err
			}
			if balance != "1" {
				return assertionError("type balance of %s = %s, want 1", guest.ID(), balance)
			}
			return expectOwner(ctx, owner, bought, guest.ID())
		})
	}

	if r.call("owner disables minting", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return owner.SetTypeMintable(ctx, tokenType, false)
	}) {
		r.call("mint after disable rejected", ExpectRejection("is not mintable"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
			_, out, err := owner.MintType(ctx, tokenType, env.NFTID)
			return out, err
		})
		r.call("buy after disable rejected", ExpectRejection("is not mintable"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
			_, out, err := asGuest.Buy(ctx, tokenType, guest.ID(), typePrice)
			return out, err
		})
	}

	limited := UniqueName("limited")
	one := uint64(1)
	if r.call("owner creates single copy type", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		return owner.CreateType(ctx, limited, market.TokenMetadata{Title: limited, Copies: &one}, nil)
	}) && r.call("first copy mints", ExpectSuccess(), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
		_, out, err := owner.MintType(ctx, limited, env.NFTID)
		return out, err
	}) {
		r.call("second copy rejected", ExpectRejection("copies exceeded"), func(ctx context.Context) (*near.FinalExecutionOutcome, error) {
			_, out, err := owner.MintType(ctx, limited, env.NFTID)
			return out, err
		})
	}
}

const alreadyInitialized = "already been initialized"

// listedType pages through nft_get_types looking for name.
func listedType(ctx context.Context, s *market.Series, name string) (*market.TokenType, error) {
	for from := uint64(0); ; from += typesPageSize {
		page, err := s.Types(ctx, from, typesPageSize)
		if err != nil {
			return nil, err
		}
		for i := range page {
			if page[i].TokenType == name {
				return &page[i], nil
			}
		}
		if len(page) < typesPageSize {
			return nil, nil
		}
	}
}

func expectOwner(ctx context.Context, s *market.Series, tokenID, want string) error {
	tok, err := s.Token(ctx, tokenID)
	if err != nil {
		return err
	}
	if tok == nil {
		return assertionError("token %s does not exist", tokenID)
	}
	if tok.OwnerID != want {
		return assertionError("owner of %s = %s, want %s", tokenID, tok.OwnerID, want)
	}
	return nil
}
