package cmd

import (
	"github.com/spf13/cobra"

	"NFTMarket-Harness/internal/web3/near"
)

func newKeygenCmd(a *app) *cobra.Command {
	var printSecret bool
	cmd := &cobra.Command{
		Use:   "keygen <account>",
		Short: "Generate an ed25519 key and store it in the credentials directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := near.GenerateKeyPair()
			if err != nil {
				return err
			}
			network := a.network
			if network == "" {
				network = a.cfg.Web3.DefaultNetwork
			}
			dir := a.cfg.Web3.CredentialsDir
			if dir == "" {
				dir = near.DefaultCredentialsDir()
			}
			if !printSecret {
				if err := near.NewFileSystemKeyStore(dir).SetKey(network, args[0], kp); err != nil {
					return err
				}
			}
			out := map[string]string{
				"account_id": args[0],
				"network":    network,
				"public_key": kp.PublicKey().String(),
			}
			if printSecret {
				out["private_key"] = kp.String()
			} else {
				out["credentials_dir"] = dir
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			printf(w, "account:     %s (%s)\n", args[0], network)
			printf(w, "public key:  %s\n", out["public_key"])
			if printSecret {
				printf(w, "private key: %s\n", out["private_key"])
			} else {
				printf(w, "stored in:   %s\n", dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSecret, "print", false, "print the private key instead of storing it")
	return cmd
}
