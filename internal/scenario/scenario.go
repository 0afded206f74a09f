package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
)

// Scenario is a named sequence of judged steps.
type Scenario struct {
	Name        string
	Description string
	steps       []string
	run         func(ctx context.Context, env *Env, r *recorder)
}

// Steps lists the step names of a complete run in order.
func (s Scenario) Steps() []string { return slices.Clone(s.steps) }

// Run executes the scenario against env and returns its report. A nil error
// does not mean the scenario passed; see Report.Verdict.
func (s Scenario) Run(ctx context.Context, env *Env) *Report {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := newRecorder(ctx, s.Name, logger)
	report := &Report{Scenario: s.Name, Network: env.Network.NetworkID, StartedAt: time.Now().UTC()}
	s.run(ctx, env, rec)
	rec.fill(s.steps)
	report.Steps = rec.steps
	report.Verdict = Summarize(report.Steps)
	report.FinishedAt = time.Now().UTC()
	logger.Info("scenario finished",
		slog.String("scenario", s.Name),
		slog.String("network", report.Network),
		slog.String("verdict", string(report.Verdict)),
		slog.Int("steps", len(report.Steps)),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

var builtin = map[string]Scenario{
	Series.Name:  Series,
	Auction.Name: Auction,
	Trade.Name:   Trade,
}

// Lookup returns the built-in scenario called name.
func Lookup(name string) (Scenario, error) {
	s, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Scenario{}, xerrors.New(CodeUnknownScenario,
			fmt.Sprintf("unknown scenario %q, expected one of %s", name, strings.Join(Names(), ", ")))
	}
	return s, nil
}

// Names lists the built-in scenarios.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the built-in scenarios in name order.
func All() []Scenario {
	names := Names()
	out := make([]Scenario, len(names))
	for i, name := range names {
		out[i] = builtin[name]
	}
	return out
}
