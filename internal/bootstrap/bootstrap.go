// Package bootstrap builds the runtime pieces shared by marketd and
// marketctl from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"NFTMarket-Harness/internal/config"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/alerting"
	"NFTMarket-Harness/internal/run"
	"NFTMarket-Harness/internal/scenario"
	mysqlstore "NFTMarket-Harness/internal/storage/mysql"
	"NFTMarket-Harness/internal/web3/provider"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

// Contract code keys accepted in web3.contract_code. A "<network>." prefix
// limits the image to one network.
const (
	CodeKeyNFT    = "nft"
	CodeKeyMarket = "market"
)

// Network bundles the registry with the embedded sandbox, if one runs.
type Network struct {
	Registry *provider.Registry
	Sandbox  *sandbox.Node
	// SandboxName is the registry entry the sandbox is attached under.
	SandboxName string
}

// Close releases the registry connections. The sandbox stops with the
// context passed to OpenNetwork.
func (n *Network) Close() {
	if n != nil && n.Registry != nil {
		n.Registry.Close()
	}
}

// OpenNetwork creates the provider registry. When the sandbox is embedded a
// node is started on cfg.Sandbox.Address and attached in place of the
// configured endpoint for cfg.Sandbox.Network.
func OpenNetwork(ctx context.Context, cfg config.Web3Config, opts ...provider.Option) (*Network, error) {
	reg, err := provider.NewRegistry(cfg, opts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create network registry")
	}
	n := &Network{Registry: reg}
	if !cfg.Sandbox.Embedded {
		return n, nil
	}

	name := cfg.Sandbox.Network
	netCfg, err := reg.Network(name)
	if err != nil {
		reg.Close()
		return nil, err
	}
	if netCfg.MasterAccount == "" {
		netCfg.MasterAccount = sandbox.DefaultMasterAccount
	}
	node, err := sandbox.New(sandbox.WithChainID(netCfg.NetworkID), sandbox.WithMasterAccount(netCfg.MasterAccount, nil))
	if err != nil {
		reg.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create sandbox node")
	}
	url, err := node.Start(ctx, cfg.Sandbox.Address)
	if err != nil {
		reg.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "start sandbox node",
			xerrors.WithMetadata("address", cfg.Sandbox.Address))
	}
	netCfg.NodeURL = url
	if err := reg.Attach(name, netCfg, node.MasterKey()); err != nil {
		reg.Close()
		return nil, err
	}
	n.Sandbox = node
	n.SandboxName = name
	return n, nil
}

// ExecutorOptions returns the contract images the executor deploys on each
// network. The sandbox always gets its built-in images; file images from
// cfg.ContractCode apply to the remaining networks.
func (n *Network) ExecutorOptions(cfg config.Web3Config) ([]scenario.ExecutorOption, error) {
	var opts []scenario.ExecutorOption
	for _, net := range n.Registry.Networks() {
		name := net.NetworkID
		if n.Sandbox != nil && name == n.SandboxName {
			continue
		}
		code, err := loadContractCode(cfg.ContractCode, name)
		if err != nil {
			return nil, err
		}
		if len(code.NFT) > 0 || len(code.Market) > 0 {
			opts = append(opts, scenario.WithContractCode(name, code))
		}
	}
	if n.Sandbox != nil {
		opts = append(opts, scenario.WithContractCode(n.SandboxName, scenario.ContractCode{
			NFT:    sandbox.NFTSeriesCode,
			Market: sandbox.MarketplaceCode,
		}))
	}
	return opts, nil
}

func loadContractCode(paths map[string]string, network string) (scenario.ContractCode, error) {
	var code scenario.ContractCode
	read := func(key string) ([]byte, error) {
		path := paths[network+"."+key]
		if path == "" {
			path = paths[key]
		}
		if strings.TrimSpace(path) == "" {
			return nil, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "read contract code",
				xerrors.WithMetadata("path", path), xerrors.WithMetadata("network", network))
		}
		return data, nil
	}
	var err error
	if code.NFT, err = read(CodeKeyNFT); err != nil {
		return code, err
	}
	if code.Market, err = read(CodeKeyMarket); err != nil {
		return code, err
	}
	return code, nil
}

// OpenRunStore selects the run store driver.
func OpenRunStore(ctx context.Context, cfg config.RunStoreConfig) (run.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return run.NewMemoryStore(), nil
	case "mysql":
		return run.NewMySQLStore(ctx, mysqlstore.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown run store driver %q", cfg.Driver))
	}
}

// OpenRunQueue selects the run queue driver.
func OpenRunQueue(ctx context.Context, cfg config.QueueConfig) (run.Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return run.NewRedisQueue(ctx, run.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown queue driver %q", cfg.Driver))
	}
}

// Alerts builds the fanout for the configured channels. The result may hold
// no notifiers.
func Alerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alert")})
	}
	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		timeout := time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, cfg.Webhook.Headers, timeout))
	}
	return alerting.NewFanout(notifiers...)
}

// Log writes a one-line summary of the selected drivers.
func Log(l *slog.Logger, cfg *config.Config, n *Network) {
	attrs := []any{
		slog.String("store", cfg.Storage.RunStore.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("default_network", n.Registry.DefaultNetwork()),
	}
	if n.Sandbox != nil {
		attrs = append(attrs, slog.String("sandbox", n.SandboxName))
	}
	l.Info("harness configured", attrs...)
}
