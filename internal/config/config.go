package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"NFTMarket-Harness/pkg/logger"
)

// EnvConfigPath names the config file.
const EnvConfigPath = "MARKET_HARNESS_CONFIG"

// Environment overrides for the web3 section.
const (
	EnvNetwork        = "NEAR_ENV"
	EnvCredentialsDir = "NEAR_CREDENTIALS_DIR"
)

// DefaultPath is read when EnvConfigPath is unset.
var DefaultPath = filepath.Join("configs", "marketd.json")

// Config is everything marketd and marketctl load at startup.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Web3     Web3Config     `json:"web3"`
	Logging  logger.Config  `json:"logging"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig controls the API listener.
type ServerConfig struct {
	Address         string `json:"address"`
	MetricsAddress  string `json:"metrics_address"`
	ShutdownSeconds int    `json:"shutdown_seconds"`
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownSeconds) * time.Second
}

type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig selects the memory or mysql driver.
type RunStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
}

// QueueConfig selects the memory, redis or rabbitmq driver.
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config describes the NEAR network table, credentials and RPC behaviour.
type Web3Config struct {
	NetworksFile   string            `json:"networks_file"`
	DefaultNetwork string            `json:"default_network"`
	CredentialsDir string            `json:"credentials_dir"`
	RPCTimeout     int               `json:"rpc_timeout_seconds"`
	RetryAttempts  *uint64           `json:"retry_attempts"`
	Sandbox        SandboxConfig     `json:"sandbox"`
	ContractCode   map[string]string `json:"contract_code"`
}

// Timeout bounds one RPC request.
func (w Web3Config) Timeout() time.Duration {
	return time.Duration(w.RPCTimeout) * time.Second
}

// Retries is how often a transient RPC error is retried.
func (w Web3Config) Retries() uint64 {
	if w.RetryAttempts == nil {
		return 3
	}
	return *w.RetryAttempts
}

// SandboxConfig starts a sandbox node in process when Embedded is set.
type SandboxConfig struct {
	Embedded bool   `json:"embedded"`
	Network  string `json:"network"`
	Address  string `json:"address"`
}

type AlertingConfig struct {
	Log     bool          `json:"log"`
	Webhook WebhookConfig `json:"webhook"`
}

// WebhookConfig posts alerts as JSON.
type WebhookConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// RuntimeConfig holds worker and retry settings.
type RuntimeConfig struct {
	DataDir         string `json:"data_dir"`
	RunTimeout      int    `json:"run_timeout_seconds"`
	WaitPollSeconds int    `json:"wait_poll_seconds"`
}

// RunTimeoutDuration bounds one scenario attempt.
func (r RuntimeConfig) RunTimeoutDuration() time.Duration {
	return time.Duration(r.RunTimeout) * time.Second
}

// Path returns $MARKET_HARNESS_CONFIG or DefaultPath.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load parses the JSON config at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config of defaults with relative paths under baseDir.
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return &cfg
}

// LoadOrDefault falls back to Default when the default path is missing. An
// explicit path must exist.
func LoadOrDefault(path string) (*Config, error) {
	explicit := path != "" || os.Getenv(EnvConfigPath) != ""
	if path == "" {
		path = Path()
	}
	if _, err := os.Stat(path); err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return Default("."), nil
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvNetwork)); v != "" {
		c.Web3.DefaultNetwork = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCredentialsDir)); v != "" {
		c.Web3.CredentialsDir = v
	}
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 5
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.Storage.RunStore.Retries <= 0 {
		c.Storage.RunStore.Retries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 1024
	}

	if c.Web3.DefaultNetwork == "" {
		c.Web3.DefaultNetwork = "sandbox"
	}
	if c.Web3.RPCTimeout <= 0 {
		c.Web3.RPCTimeout = 30
	}
	if c.Web3.Sandbox.Network == "" {
		c.Web3.Sandbox.Network = "sandbox"
	}
	if c.Web3.Sandbox.Address == "" {
		c.Web3.Sandbox.Address = "127.0.0.1:0"
	}
	c.Web3.NetworksFile = resolve(baseDir, c.Web3.NetworksFile)
	c.Web3.CredentialsDir = resolve(baseDir, c.Web3.CredentialsDir)
	for name, path := range c.Web3.ContractCode {
		c.Web3.ContractCode[name] = resolve(baseDir, path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "audit.log"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, c.Logging.Audit.Path)
	}
	if c.Runtime.RunTimeout <= 0 {
		c.Runtime.RunTimeout = 300
	}
	if c.Runtime.WaitPollSeconds <= 0 {
		c.Runtime.WaitPollSeconds = 1
	}

	if c.Alerting.Webhook.TimeoutSeconds <= 0 {
		c.Alerting.Webhook.TimeoutSeconds = 5
	}
}

// resolve anchors a relative path at baseDir. Empty stays empty.
func resolve(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
