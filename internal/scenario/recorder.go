package scenario

import (
	"context"
	"log/slog"
	"slices"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/internal/web3/near"
)

// recorder runs the steps of one scenario and collects their results.
type recorder struct {
	ctx      context.Context
	scenario string
	logger   *slog.Logger
	steps    []StepResult
	halted   bool
}

func newRecorder(ctx context.Context, scenario string, logger *slog.Logger) *recorder {
	return &recorder{ctx: ctx, scenario: scenario, logger: logger.With(slog.String("scenario", scenario))}
}

// call runs a state-changing step and judges its error against exp. It
// reports whether later steps may build on the result.
func (r *recorder) call(name string, exp Expectation, fn func(ctx context.Context) (*near.FinalExecutionOutcome, error)) bool {
	if r.skip(name) {
		return false
	}
	start := time.Now()
	out, err := fn(r.ctx)
	verdict, outcome, detail := exp.Judge(err)
	res := StepResult{
		Name:     name,
		Verdict:  verdict,
		Outcome:  outcome,
		Expected: exp.String(),
		Detail:   detail,
		Elapsed:  time.Since(start),
	}
	if out != nil {
		res.TxHash = out.Hash()
	}
	if err != nil {
		res.ErrorCode = xerrors.CodeOf(err)
	}
	return r.record(res)
}

// check runs an assertion over view state. Any error fails the step unless
// it is transient.
func (r *recorder) check(name string, fn func(ctx context.Context) error) bool {
	if r.skip(name) {
		return false
	}
	start := time.Now()
	err := fn(r.ctx)
	verdict, outcome := VerdictPassed, near.OutcomeSucceeded
	res := StepResult{Name: name, Expected: "assertion"}
	if err != nil {
		outcome = near.Classify(err)
		verdict = VerdictFailed
		if outcome == near.OutcomeTransient {
			verdict = VerdictInconclusive
		}
		res.Detail = err.Error()
		res.ErrorCode = xerrors.CodeOf(err)
	}
	res.Verdict, res.Outcome, res.Elapsed = verdict, outcome, time.Since(start)
	return r.record(res)
}

// skip records name as skipped once an earlier step made the rest
// meaningless, or the context is gone.
func (r *recorder) skip(name string) bool {
	if !r.halted && r.ctx.Err() != nil {
		r.halted = true
		r.record(StepResult{
			Name:    name,
			Verdict: VerdictInconclusive,
			Outcome: near.OutcomeTransient,
			Detail:  r.ctx.Err().Error(),
		})
		return true
	}
	if r.halted {
		r.steps = append(r.steps, r.skipped(name))
		return true
	}
	return false
}

// fill merges the declared steps into the recorded ones: every declared step
// that never ran is recorded as skipped in its place.
func (r *recorder) fill(declared []string) {
	out := make([]StepResult, 0, len(declared))
	next := 0
	for _, res := range r.steps {
		if i := slices.Index(declared[next:], res.Name); i >= 0 {
			for _, name := range declared[next : next+i] {
				out = append(out, r.skipped(name))
			}
			next += i + 1
		}
		out = append(out, res)
	}
	for _, name := range declared[next:] {
		out = append(out, r.skipped(name))
	}
	r.steps = out
}

func (r *recorder) skipped(name string) StepResult {
	metrics.ObserveStep(r.scenario, string(VerdictSkipped))
	return StepResult{Name: name, Verdict: VerdictSkipped}
}

// halt marks every later step as skipped.
func (r *recorder) halt() { r.halted = true }

func (r *recorder) record(res StepResult) bool {
	r.steps = append(r.steps, res)
	metrics.ObserveStep(r.scenario, string(res.Verdict))
	attrs := []any{
		slog.String("step", res.Name),
		slog.String("verdict", string(res.Verdict)),
		slog.Duration("elapsed", res.Elapsed),
	}
	if res.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", res.TxHash))
	}
	switch res.Verdict {
	case VerdictFailed:
		r.logger.Error("step failed", append(attrs, slog.String("detail", res.Detail))...)
	case VerdictInconclusive, VerdictTolerated:
		r.logger.Warn("step not passed", append(attrs, slog.String("detail", res.Detail))...)
	default:
		r.logger.Debug("step passed", attrs...)
	}
	return res.Verdict.Ok()
}

// must runs a step that the rest of the scenario depends on and halts on
// anything but success.
func (r *recorder) must(ok bool) bool {
	if !ok {
		r.halt()
	}
	return ok
}
