package cmd

import (
	"context"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"NFTMarket-Harness/internal/web3"
	"NFTMarket-Harness/internal/web3/provider"
)

type networkRow struct {
	web3.NetworkConfig
	Default  bool                `json:"default"`
	Snapshot *web3.ChainSnapshot `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func newNetworksCmd(a *app) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			rows := listNetworks(cmd.Context(), n.Registry, probe)
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "NAME\tNODE\tNFT\tMARKET\tMASTER")
			if probe {
				printf(tw, "\tHEIGHT")
			}
			printf(tw, "\n")
			for _, row := range rows {
				name := row.NetworkID
				if row.Default {
					name += "*"
				}
				printf(tw, "%s\t%s\t%s\t%s\t%s", name, row.NodeURL, row.ContractName, row.MarketID, row.MasterAccount)
				switch {
				case row.Snapshot != nil:
					printf(tw, "\t%d", row.Snapshot.BlockHeight)
				case row.Error != "":
					printf(tw, "\tunreachable")
				}
				printf(tw, "\n")
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "query each node for its latest block")
	return cmd
}

func listNetworks(ctx context.Context, reg *provider.Registry, probe bool) []networkRow {
	def := reg.DefaultNetwork()
	var rows []networkRow
	for _, cfg := range reg.Networks() {
		row := networkRow{NetworkConfig: cfg, Default: cfg.NetworkID == def}
		if probe {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			snap, err := snapshot(probeCtx, reg, cfg.NetworkID)
			cancel()
			if err != nil {
				row.Error = err.Error()
			} else {
				row.Snapshot = &snap
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func snapshot(ctx context.Context, reg *provider.Registry, name string) (web3.ChainSnapshot, error) {
	client, err := reg.Client(ctx, name)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return client.FetchChainSnapshot(ctx)
}
