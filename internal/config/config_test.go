package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(EnvNetwork, "")
	t.Setenv(EnvCredentialsDir, "")
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.RunStore.Driver)
	assert.Equal(t, 3, cfg.Storage.RunStore.Retries)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, "sandbox", cfg.Web3.DefaultNetwork)
	assert.Equal(t, uint64(3), cfg.Web3.Retries())
	assert.Equal(t, 30*time.Second, cfg.Web3.Timeout())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, 5*time.Minute, cfg.Runtime.RunTimeoutDuration())
	assert.Empty(t, cfg.Web3.NetworksFile)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Setenv(EnvNetwork, "")
	t.Setenv(EnvCredentialsDir, "")
	path := writeConfig(t, `{
		"web3": {
			"networks_file": "networks.yaml",
			"credentials_dir": "/abs/creds",
			"retry_attempts": 0,
			"contract_code": {"nft": "wasm/nft.wasm"}
		},
		"logging": {"audit": {"enabled": true}},
		"runtime": {"data_dir": "state"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "networks.yaml"), cfg.Web3.NetworksFile)
	assert.Equal(t, "/abs/creds", cfg.Web3.CredentialsDir)
	assert.Equal(t, filepath.Join(dir, "wasm", "nft.wasm"), cfg.Web3.ContractCode["nft"])
	assert.Equal(t, uint64(0), cfg.Web3.Retries())
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "state", "audit.log"), cfg.Logging.Audit.Path)
}

func TestEnvironmentOverridesWeb3(t *testing.T) {
	t.Setenv(EnvNetwork, "testnet")
	t.Setenv(EnvCredentialsDir, "/tmp/near-creds")
	path := writeConfig(t, `{"web3": {"default_network": "local"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Web3.DefaultNetwork)
	assert.Equal(t, "/tmp/near-creds", cfg.Web3.CredentialsDir)
}

func TestLoadRejectsBrokenFiles(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"server":`))
	require.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Queue.Driver)

	_, err = LoadOrDefault("does-not-exist.json")
	require.Error(t, err)

	t.Setenv(EnvConfigPath, writeConfig(t, `{"server": {"address": ":9090"}}`))
	assert.NotEqual(t, DefaultPath, Path())
	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
}
