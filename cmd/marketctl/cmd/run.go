package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/sdk/go/market"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		params map[string]string
		server string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:       "run <scenario>... | all",
		Short:     "Run scenarios and print a verdict per step",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: append(scenario.Names(), "all"),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := expandScenarios(args)
			if server != "" {
				return a.runRemote(cmd, server, names, params)
			}
			return a.runLocal(cmd, names, params, watch)
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "scenario parameter, e.g. nft_contract=nft.test.near")
	cmd.Flags().StringVar(&server, "server", "", "submit the runs to a marketd API at this url")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print every transaction to stderr as it settles")
	return cmd
}

func expandScenarios(args []string) []string {
	var names []string
	for _, arg := range args {
		if arg == "all" {
			names = append(names, scenario.Names()...)
			continue
		}
		names = append(names, arg)
	}
	return names
}

func (a *app) runLocal(cmd *cobra.Command, names []string, params map[string]string, watch bool) error {
	ctx := cmd.Context()
	n, err := a.open(ctx)
	if err != nil {
		return err
	}
	if watch {
		conn, err := n.Registry.Connection(ctx, a.network)
		if err != nil {
			return err
		}
		stop := watchOutcomes(conn, cmd.ErrOrStderr())
		defer stop()
	}
	opts, err := n.ExecutorOptions(a.cfg.Web3)
	if err != nil {
		return err
	}
	exec := scenario.NewExecutor(n.Registry, opts...)

	var errs []error
	var reports []*scenario.Report
	for _, name := range names {
		report, err := exec.Execute(ctx, name, a.network, params)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		reports = append(reports, report)
		if !a.jsonOut {
			printReport(cmd.OutOrStdout(), report)
		}
		errs = append(errs, report.Err())
	}
	if a.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// watchOutcomes prints transactions sent through conn until stop is called.
func watchOutcomes(conn *near.Connection, w io.Writer) (stop func()) {
	ch := make(chan near.OutcomeEvent, 16)
	sub := conn.SubscribeOutcomes(ch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printOutcomes(ch, sub.Err(), w)
	}()
	return func() {
		sub.Unsubscribe()
		<-done
	}
}

// printOutcomes prints events until quit closes, then whatever is still
// buffered in ch.
func printOutcomes(ch <-chan near.OutcomeEvent, quit <-chan error, w io.Writer) {
	for {
		select {
		case ev := <-ch:
			printOutcome(w, ev)
		case <-quit:
			for {
				select {
				case ev := <-ch:
					printOutcome(w, ev)
				default:
					return
				}
			}
		}
	}
}

func printOutcome(w io.Writer, ev near.OutcomeEvent) {
	printf(w, "tx %s %s -> %s: %s", ev.Hash, ev.SignerID, ev.ReceiverID, ev.Outcome)
	if ev.Err != nil {
		printf(w, " (%v)", ev.Err)
	}
	printf(w, "\n")
}

func printReport(w io.Writer, r *scenario.Report) {
	printf(w, "%s on %s: %s (%s)\n", r.Scenario, r.Network, r.Verdict, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, step := range r.Steps {
		printf(w, "  %-12s %s", "["+string(step.Verdict)+"]", step.Name)
		if step.TxHash != "" {
			printf(w, " tx=%s", step.TxHash)
		}
		if step.Detail != "" {
			printf(w, ": %s", step.Detail)
		}
		printf(w, "\n")
	}
}

func (a *app) runRemote(cmd *cobra.Command, server string, names []string, params map[string]string) error {
	ctx := cmd.Context()
	client, err := market.NewClient(server, nil)
	if err != nil {
		return err
	}
	poll := time.Duration(a.cfg.Runtime.WaitPollSeconds) * time.Second

	var errs []error
	var runs []market.Run
	for _, name := range names {
		submitted, err := client.SubmitRun(ctx, market.RunRequest{Scenario: name, Network: a.network, Params: params})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		done, err := client.WaitForRun(ctx, submitted.ID, poll)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", name, submitted.ID, err))
			continue
		}
		runs = append(runs, done)
		if !a.jsonOut {
			printRun(cmd.OutOrStdout(), done)
		}
		if done.Status != market.StatusPassed {
			errs = append(errs, fmt.Errorf("run %s of %s is %s: %s", done.ID, done.Scenario, done.Status, done.LastError))
		}
	}
	if a.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), runs); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func printRun(w io.Writer, r market.Run) {
	printf(w, "%s on %s: %s after %d attempt(s) [run %s]\n", r.Scenario, r.Network, r.Status, r.Attempts, r.ID)
	if r.Report == nil {
		return
	}
	for _, step := range r.Report.Steps {
		printf(w, "  %-12s %s", "["+step.Verdict+"]", step.Name)
		if step.Detail != "" {
			printf(w, ": %s", step.Detail)
		}
		printf(w, "\n")
	}
}
