package web3

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "NFTMarket-Harness/internal/errors"
)

// DefaultGas is the per-call gas ceiling used when a network does not set one.
const DefaultGas = "200000000000000"

// NetworkConfig is the fixed mapping returned for a network name: endpoints,
// contract identifiers and default amounts.
type NetworkConfig struct {
	NetworkID                string `yaml:"network_id" json:"network_id"`
	NodeURL                  string `yaml:"node_url" json:"node_url"`
	WalletURL                string `yaml:"wallet_url" json:"wallet_url,omitempty"`
	HelperURL                string `yaml:"helper_url" json:"helper_url,omitempty"`
	ExplorerURL              string `yaml:"explorer_url" json:"explorer_url,omitempty"`
	ContractName             string `yaml:"contract_name" json:"contract_name"`
	MarketID                 string `yaml:"market_id" json:"market_id"`
	FungibleID               string `yaml:"fungible_id" json:"fungible_id,omitempty"`
	MasterAccount            string `yaml:"master_account" json:"master_account"`
	Gas                      string `yaml:"gas" json:"gas"`
	DefaultNewAccountAmount  string `yaml:"default_new_account_amount" json:"default_new_account_amount"`
	DefaultNewContractAmount string `yaml:"default_new_contract_amount" json:"default_new_contract_amount"`
	GuestsAccountSecret      string `yaml:"guests_account_secret" json:"-"`
	KeyDir                   string `yaml:"key_dir" json:"key_dir,omitempty"`
	Description              string `yaml:"description" json:"description,omitempty"`
}

// GasLimit parses the configured gas ceiling.
func (n NetworkConfig) GasLimit() (uint64, error) {
	raw := strings.TrimSpace(n.Gas)
	if raw == "" {
		raw = DefaultGas
	}
	gas, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid gas for network %s", n.NetworkID))
	}
	return gas, nil
}

// TransactionURL links a transaction hash to the network explorer.
func (n NetworkConfig) TransactionURL(hash string) string {
	if n.ExplorerURL == "" || hash == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/transactions/" + hash
}

func (n NetworkConfig) withDefaults(name string) NetworkConfig {
	if n.NetworkID == "" {
		n.NetworkID = name
	}
	if n.Gas == "" {
		n.Gas = DefaultGas
	}
	if n.DefaultNewAccountAmount == "" {
		n.DefaultNewAccountAmount = "5"
	}
	if n.DefaultNewContractAmount == "" {
		n.DefaultNewContractAmount = "5"
	}
	if n.MasterAccount == "" {
		n.MasterAccount = n.ContractName
	}
	if n.MarketID == "" && n.ContractName != "" {
		n.MarketID = "market." + n.ContractName
	}
	return n
}

// builtinNetworks mirrors the endpoints of the public NEAR networks plus a
// local sandbox layout.
var builtinNetworks = map[string]NetworkConfig{
	"testnet": {
		NodeURL:      "https://rpc.testnet.near.org",
		WalletURL:    "https://wallet.testnet.near.org",
		HelperURL:    "https://helper.testnet.near.org",
		ExplorerURL:  "https://explorer.testnet.near.org",
		ContractName: "dev-1628270601500-66808722179016",
		FungibleID:   "ft.hhft.testnet",
	},
	"mainnet": {
		NodeURL:     "https://rpc.mainnet.near.org",
		WalletURL:   "https://wallet.near.org",
		HelperURL:   "https://helper.mainnet.near.org",
		ExplorerURL: "https://explorer.near.org",
	},
	"betanet": {
		NodeURL:     "https://rpc.betanet.near.org",
		WalletURL:   "https://wallet.betanet.near.org",
		HelperURL:   "https://helper.betanet.near.org",
		ExplorerURL: "https://explorer.betanet.near.org",
	},
	"local": {
		NetworkID:     "local",
		NodeURL:       "http://localhost:3030",
		WalletURL:     "http://localhost:4000/wallet",
		ContractName:  "nft.test.near",
		MasterAccount: "test.near",
	},
	"sandbox": {
		NetworkID:     "sandbox",
		NodeURL:       "http://127.0.0.1:3030",
		ContractName:  "nft.test.near",
		MarketID:      "market.test.near",
		MasterAccount: "test.near",
		Description:   "in-process sandbox node",
	},
}

// NetworkTable resolves network names to configurations.
type NetworkTable struct {
	networks map[string]NetworkConfig
}

type networkFile struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// LoadNetworkTable returns the built-in networks overlaid with the YAML file
// at path. An empty path yields the built-in table.
func LoadNetworkTable(path string) (*NetworkTable, error) {
	table := &NetworkTable{networks: make(map[string]NetworkConfig, len(builtinNetworks))}
	for name, cfg := range builtinNetworks {
		table.networks[name] = cfg.withDefaults(name)
	}
	if strings.TrimSpace(path) == "" {
		return table, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}
	var file networkFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse networks file: %w", err)
	}
	for name, override := range file.Networks {
		base, ok := builtinNetworks[name]
		if ok {
			override = merge(base, override)
		}
		table.networks[name] = override.withDefaults(name)
	}
	return table, nil
}

// Network returns the configuration registered under name.
func (t *NetworkTable) Network(name string) (NetworkConfig, error) {
	name = strings.TrimSpace(name)
	if t == nil {
		return NetworkConfig{}, xerrors.New(xerrors.CodeInitializationFailure, "network table is not initialized")
	}
	cfg, ok := t.networks[name]
	if !ok {
		return NetworkConfig{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown network %q", name))
	}
	return cfg, nil
}

// Set registers or replaces a network, used when a sandbox is started in
// process and its URL is only known at runtime.
func (t *NetworkTable) Set(name string, cfg NetworkConfig) {
	t.networks[name] = cfg.withDefaults(name)
}

// Names lists the known networks in sorted order.
func (t *NetworkTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.networks))
	for name := range t.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func merge(base, override NetworkConfig) NetworkConfig {
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	pick(&base.NetworkID, override.NetworkID)
	pick(&base.NodeURL, override.NodeURL)
	pick(&base.WalletURL, override.WalletURL)
	pick(&base.HelperURL, override.HelperURL)
	pick(&base.ExplorerURL, override.ExplorerURL)
	pick(&base.ContractName, override.ContractName)
	pick(&base.MarketID, override.MarketID)
	pick(&base.FungibleID, override.FungibleID)
	pick(&base.MasterAccount, override.MasterAccount)
	pick(&base.Gas, override.Gas)
	pick(&base.DefaultNewAccountAmount, override.DefaultNewAccountAmount)
	pick(&base.DefaultNewContractAmount, override.DefaultNewContractAmount)
	pick(&base.GuestsAccountSecret, override.GuestsAccountSecret)
	pick(&base.KeyDir, override.KeyDir)
	pick(&base.Description, override.Description)
	return base
}
