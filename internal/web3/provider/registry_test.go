package provider

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NFTMarket-Harness/internal/config"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

func TestRegistryDefaultsAndNetworks(t *testing.T) {
	reg, err := NewRegistry(config.Web3Config{DefaultNetwork: "testnet", CredentialsDir: t.TempDir()})
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, "testnet", reg.DefaultNetwork())
	var names []string
	for _, n := range reg.Networks() {
		names = append(names, n.NetworkID)
	}
	assert.Subset(t, names, []string{"betanet", "local", "mainnet", "sandbox", "testnet"})

	cfg, err := reg.Network("")
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.testnet.near.org", cfg.NodeURL)

	_, err = reg.Connection(context.Background(), "nowhere")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	_, err := NewRegistry(config.Web3Config{DefaultNetwork: "nowhere"})
	require.Error(t, err)
}

func TestRegistryLoadsNetworkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`networks:
  staging:
    node_url: http://staging:3030
    contract_name: nft.staging.near
`), 0o600))

	reg, err := NewRegistry(config.Web3Config{NetworksFile: path, DefaultNetwork: "staging"})
	require.NoError(t, err)
	cfg, err := reg.Network("staging")
	require.NoError(t, err)
	assert.Equal(t, "market.nft.staging.near", cfg.MarketID)
}

func TestAttachSandboxAndConnect(t *testing.T) {
	node, err := sandbox.New(sandbox.WithLogger(logger.Discard()))
	require.NoError(t, err)
	srv := httptest.NewServer(node.Handler())
	defer srv.Close()

	zero := uint64(0)
	reg, err := NewRegistry(config.Web3Config{DefaultNetwork: "sandbox", RetryAttempts: &zero},
		WithKeyStore(near.NewInMemoryKeyStore()),
		WithConnectOptions(near.WithLogger(logger.Discard())))
	require.NoError(t, err)
	defer reg.Close()

	base, err := reg.Network("sandbox")
	require.NoError(t, err)
	base.NodeURL = srv.URL
	require.NoError(t, reg.Attach("sandbox", base, node.MasterKey()))

	ctx := context.Background()
	client, err := reg.DefaultClient(ctx)
	require.NoError(t, err)
	snap, err := client.FetchChainSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, sandbox.DefaultChainID, snap.ChainID)

	conn, err := reg.Connection(ctx, "sandbox")
	require.NoError(t, err)
	assert.Same(t, client, web3.Client(conn))

	kp, err := near.GenerateKeyPair()
	require.NoError(t, err)
	_, err = conn.Account(node.MasterAccount()).CreateAccount(ctx, "alice.test.near", kp.PublicKey(), near.MustParseNEAR("1"))
	require.NoError(t, err)
	assert.Contains(t, node.Accounts(), "alice.test.near")
}
