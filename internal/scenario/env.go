package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/market"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/near"
)

// Parameters a run may pass to override the network table.
const (
	ParamNFTContract    = "nft_contract"
	ParamMarketContract = "market_contract"
	ParamMasterAccount  = "master_account"
)

// ContractCode holds the images deployed when a contract account is missing.
// Empty images mean the contracts must already exist.
type ContractCode struct {
	NFT    []byte
	Market []byte
}

// Env is what a scenario runs against: one connection, the master account
// that funds fixtures and the two contract ids.
type Env struct {
	Conn     *near.Connection
	Network  web3.NetworkConfig
	Master   *near.Account
	NFTID    string
	MarketID string
	Code     ContractCode
	Logger   *slog.Logger

	accountAmount  near.Amount
	contractAmount near.Amount
}

// NewEnv resolves contract ids and amounts from the connection's network,
// then applies params.
func NewEnv(conn *near.Connection, code ContractCode, params map[string]string, logger *slog.Logger) (*Env, error) {
	cfg := conn.Network()
	pick := func(key, fallback string) string {
		if v := strings.TrimSpace(params[key]); v != "" {
			return v
		}
		return fallback
	}
	masterID := pick(ParamMasterAccount, cfg.MasterAccount)
	if masterID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("network %s has no master account", cfg.NetworkID))
	}
	accountAmount, err := near.ParseNEAR(cfg.DefaultNewAccountAmount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "default_new_account_amount")
	}
	contractAmount, err := near.ParseNEAR(cfg.DefaultNewContractAmount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "default_new_contract_amount")
	}
	env := &Env{
		Conn:           conn,
		Network:        cfg,
		Master:         conn.Account(masterID),
		NFTID:          pick(ParamNFTContract, cfg.ContractName),
		MarketID:       pick(ParamMarketContract, cfg.MarketID),
		Code:           code,
		Logger:         logger,
		accountAmount:  accountAmount,
		contractAmount: contractAmount,
	}
	if env.NFTID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("network %s has no nft contract", cfg.NetworkID))
	}
	return env, nil
}

// Series returns the NFT contract bound to signer.
func (e *Env) Series(signer *near.Account) *market.Series { return market.NewSeries(signer, e.NFTID) }

// Marketplace returns the marketplace bound to signer.
func (e *Env) Marketplace(signer *near.Account) *market.Marketplace {
	return market.NewMarketplace(signer, e.MarketID)
}

// EnsureContract makes sure contractID exists. A missing account is created
// under the master and code is deployed to it; fresh reports that case.
func (e *Env) EnsureContract(ctx context.Context, contractID string, code []byte) (fresh bool, err error) {
	_, err = e.Conn.Account(contractID).State(ctx)
	if err == nil {
		return false, nil
	}
	if xerrors.CodeOf(err) != near.CodeAccountNotFound || len(code) == 0 {
		return false, err
	}
	if _, err := e.createAccount(ctx, contractID, e.contractAmount); err != nil {
		return false, err
	}
	if _, err := e.Conn.Account(contractID).DeployContract(ctx, code); err != nil {
		return false, err
	}
	e.Logger.Info("contract deployed", slog.String("contract", contractID), slog.Int("code_bytes", len(code)))
	return true, nil
}

// UniqueName returns prefix plus a short random suffix, usable as a token
// type or account label.
func UniqueName(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateAccounts creates one funded sub-account of the master per label in
// parallel. The result keeps the order of labels.
func (e *Env) CreateAccounts(ctx context.Context, labels ...string) ([]*near.Account, error) {
	accounts := make([]*near.Account, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	for i, label := range labels {
		g.Go(func() error {
			id := UniqueName(label) + "." + e.Master.ID()
			acc, err := e.createAccount(gctx, id, e.accountAmount)
			if err != nil {
				return fmt.Errorf("create %s: %w", label, err)
			}
			accounts[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (e *Env) createAccount(ctx context.Context, id string, amount near.Amount) (*near.Account, error) {
	kp, err := near.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	// The key must be known before the first transaction of the new account.
	if err := e.Conn.KeyStore().SetKey(e.Network.NetworkID, id, kp); err != nil {
		return nil, err
	}
	if _, err := e.Master.CreateAccount(ctx, id, kp.PublicKey(), amount); err != nil {
		return nil, err
	}
	e.Logger.Debug("account created", slog.String("account", id), slog.String("amount", amount.FormatNEAR()))
	return e.Conn.Account(id), nil
}
