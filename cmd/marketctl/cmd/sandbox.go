package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

func newSandboxCmd(a *app) *cobra.Command {
	var (
		addr    string
		chainID string
		master  string
		secret  string
	)
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve an in-process NEAR node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []sandbox.Option{sandbox.WithChainID(chainID)}
			var kp *near.KeyPair
			if secret != "" {
				parsed, err := near.ParseKeyPair(secret)
				if err != nil {
					return err
				}
				kp = parsed
			}
			opts = append(opts, sandbox.WithMasterAccount(master, kp))
			node, err := sandbox.New(opts...)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Web3.Sandbox.Address
			}
			url, err := node.Start(cmd.Context(), addr)
			if err != nil {
				return err
			}
			info := map[string]string{
				"node_url":              url,
				"network_id":            node.ChainID(),
				"master_account":        node.MasterAccount(),
				"guests_account_secret": node.MasterKey().String(),
			}
			if a.jsonOut {
				if err := printJSON(cmd.OutOrStdout(), info); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				printf(w, "node url:       %s\n", url)
				printf(w, "network id:     %s\n", node.ChainID())
				printf(w, "master account: %s\n", node.MasterAccount())
				printf(w, "master secret:  %s\n", info["guests_account_secret"])
			}
			<-cmd.Context().Done()
			logger.Named("sandbox").Info("sandbox stopped", slog.Uint64("height", node.Height()))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "address", "", "listen address (default web3.sandbox.address)")
	cmd.Flags().StringVar(&chainID, "chain-id", sandbox.DefaultChainID, "network id reported by the node")
	cmd.Flags().StringVar(&master, "master", sandbox.DefaultMasterAccount, "genesis account")
	cmd.Flags().StringVar(&secret, "secret", "", "ed25519 secret of the genesis account (random when empty)")
	return cmd
}
