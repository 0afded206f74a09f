// Package cmd implements the marketctl command tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"NFTMarket-Harness/internal/bootstrap"
	"NFTMarket-Harness/internal/config"
	"NFTMarket-Harness/pkg/logger"
)

// app carries what the subcommands share. The network is opened lazily so
// commands that never touch a node stay offline.
type app struct {
	configPath string
	network    string
	jsonOut    bool

	cfg *config.Config
	net *bootstrap.Network
}

// loggerOnce guards the process-wide logger; tests build many trees.
var loggerOnce sync.Once

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "marketctl",
		Short:         "Run NFT marketplace scenarios against NEAR networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	root.PersistentFlags().StringVarP(&a.network, "network", "n", "", "network name (default from config or $"+config.EnvNetwork+")")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON")

	root.AddCommand(
		newRunCmd(a),
		newNetworksCmd(a),
		newStateCmd(a),
		newViewCmd(a),
		newKeygenCmd(a),
		newSandboxCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if a.network != "" {
		cfg.Web3.DefaultNetwork = a.network
	}
	// stdout carries command output
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stderr"}
	}
	loggerOnce.Do(func() { err = logger.Init(cfg.Logging) })
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// open returns the shared network, starting the embedded sandbox when the
// config asks for it.
func (a *app) open(ctx context.Context) (*bootstrap.Network, error) {
	if a.net != nil {
		return a.net, nil
	}
	n, err := bootstrap.OpenNetwork(ctx, a.cfg.Web3)
	if err != nil {
		return nil, err
	}
	a.net = n
	return n, nil
}

func (a *app) close() {
	a.net.Close()
	a.net = nil
	_ = logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
