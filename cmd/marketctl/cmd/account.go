package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	xerrors "NFTMarket-Harness/internal/errors"
)

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <account>",
		Short: "Show an account's balance and storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := a.open(ctx)
			if err != nil {
				return err
			}
			conn, err := n.Registry.Connection(ctx, a.network)
			if err != nil {
				return err
			}
			state, err := conn.Account(args[0]).State(ctx)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), state)
			}
			w := cmd.OutOrStdout()
			printf(w, "account:  %s\n", args[0])
			printf(w, "balance:  %s NEAR\n", state.Amount.FormatNEAR())
			printf(w, "locked:   %s NEAR\n", state.Locked.FormatNEAR())
			printf(w, "storage:  %d bytes\n", state.StorageUsage)
			printf(w, "code:     %s\n", state.CodeHash)
			printf(w, "height:   %d\n", state.BlockHeight)
			return nil
		},
	}
}

func newViewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view <contract> <method> [json-args]",
		Short: "Call a view method and print the result",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw := json.RawMessage("{}")
			if len(args) == 3 {
				raw = json.RawMessage(args[2])
				if !json.Valid(raw) {
					return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("args are not valid JSON: %s", args[2]))
				}
			}
			n, err := a.open(ctx)
			if err != nil {
				return err
			}
			conn, err := n.Registry.Connection(ctx, a.network)
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := conn.ViewFunction(ctx, args[0], args[1], raw, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
