package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NFTMarket-Harness/internal/config"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/run"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/internal/web3/provider"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

func embeddedConfig() config.Web3Config {
	zero := uint64(0)
	return config.Web3Config{
		DefaultNetwork: "sandbox",
		RetryAttempts:  &zero,
		Sandbox:        config.SandboxConfig{Embedded: true, Network: "sandbox", Address: "127.0.0.1:0"},
	}
}

func TestOpenNetworkAttachesSandbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := OpenNetwork(ctx, embeddedConfig(), provider.WithKeyStore(near.NewInMemoryKeyStore()))
	require.NoError(t, err)
	defer n.Close()

	require.NotNil(t, n.Sandbox)
	cfg, err := n.Registry.Network("sandbox")
	require.NoError(t, err)
	assert.Contains(t, cfg.NodeURL, "127.0.0.1:")

	conn, err := n.Registry.Connection(ctx, "sandbox")
	require.NoError(t, err)
	state, err := conn.Account(cfg.MasterAccount).State(ctx)
	require.NoError(t, err)
	assert.False(t, state.Amount.IsZero())
}

func TestEmbeddedSandboxRunsScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	web3Cfg := embeddedConfig()
	n, err := OpenNetwork(ctx, web3Cfg, provider.WithKeyStore(near.NewInMemoryKeyStore()))
	require.NoError(t, err)
	defer n.Close()

	opts, err := n.ExecutorOptions(web3Cfg)
	require.NoError(t, err)

	conn, err := n.Registry.Connection(ctx, "")
	require.NoError(t, err)
	events := make(chan near.OutcomeEvent, 8)
	sub := conn.SubscribeOutcomes(events)
	seen := make(map[near.Outcome]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-events:
				seen[ev.Outcome]++
			case <-sub.Err():
				return
			}
		}
	}()

	exec := scenario.NewExecutor(n.Registry, append(opts, scenario.WithExecutorLogger(logger.Discard()))...)
	report, err := exec.Execute(ctx, "series", "", nil)
	require.NoError(t, err)
	assert.Equal(t, scenario.VerdictPassed, report.Verdict)

	sub.Unsubscribe()
	<-done
	assert.NotZero(t, seen[near.OutcomeSucceeded])
	assert.NotZero(t, seen[near.OutcomeRejected], "series expects rejected calls")
}

func TestOpenNetworkUnknownSandboxNetwork(t *testing.T) {
	cfg := embeddedConfig()
	cfg.Sandbox.Network = "nowhere"
	_, err := OpenNetwork(context.Background(), cfg)
	require.Error(t, err)
}

func TestLoadContractCodePrefersNetworkKey(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "nft.wasm")
	local := filepath.Join(dir, "local-nft.wasm")
	require.NoError(t, os.WriteFile(shared, []byte("shared"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o600))

	paths := map[string]string{"nft": shared, "local.nft": local}
	code, err := loadContractCode(paths, "local")
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), code.NFT)
	assert.Empty(t, code.Market)

	code, err = loadContractCode(paths, "testnet")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), code.NFT)

	_, err = loadContractCode(map[string]string{"market": filepath.Join(dir, "missing")}, "testnet")
	require.True(t, xerrors.HasCode(err, xerrors.CodeInitializationFailure))
}

func TestSandboxImagesAreNotOverridden(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := embeddedConfig()
	cfg.ContractCode = map[string]string{"nft": filepath.Join(t.TempDir(), "missing.wasm")}

	n, err := OpenNetwork(ctx, cfg, provider.WithKeyStore(near.NewInMemoryKeyStore()))
	require.NoError(t, err)
	defer n.Close()

	// every non-sandbox network reads the missing file
	_, err = n.ExecutorOptions(cfg)
	require.Error(t, err)

	cfg.ContractCode = nil
	opts, err := n.ExecutorOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
	assert.Equal(t, sandbox.DefaultChainID, n.SandboxName)
}

func TestOpenRunStoreDrivers(t *testing.T) {
	store, err := OpenRunStore(context.Background(), config.RunStoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &run.MemoryStore{}, store)

	_, err = OpenRunStore(context.Background(), config.RunStoreConfig{Driver: "mysql"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = OpenRunStore(context.Background(), config.RunStoreConfig{Driver: "sqlite"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestOpenRunQueueDrivers(t *testing.T) {
	queue, err := OpenRunQueue(context.Background(), config.QueueConfig{Driver: "", Buffer: 4})
	require.NoError(t, err)
	assert.IsType(t, &run.MemoryQueue{}, queue)
	require.NoError(t, queue.Close())

	_, err = OpenRunQueue(context.Background(), config.QueueConfig{Driver: "redis"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = OpenRunQueue(context.Background(), config.QueueConfig{Driver: "rabbitmq"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = OpenRunQueue(context.Background(), config.QueueConfig{Driver: "kafka"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestAlertsChannels(t *testing.T) {
	assert.Equal(t, 0, Alerts(config.AlertingConfig{}).Len())
	assert.Equal(t, 1, Alerts(config.AlertingConfig{Log: true}).Len())
	cfg := config.AlertingConfig{Log: true, Webhook: config.WebhookConfig{URL: "http://127.0.0.1/hook"}}
	assert.Equal(t, 2, Alerts(cfg).Len())
}
