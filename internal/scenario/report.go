package scenario

import (
	"fmt"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3/near"
)

const (
	CodeScenarioFailed       xerrors.Code = "SCENARIO_FAILED"
	CodeScenarioInconclusive xerrors.Code = "SCENARIO_INCONCLUSIVE"
	CodeUnknownScenario      xerrors.Code = "UNKNOWN_SCENARIO"
	// CodeAssertion marks a view result that contradicts the step.
	CodeAssertion xerrors.Code = "ASSERTION_FAILED"
)

func init() {
	xerrors.Register(CodeScenarioFailed, xerrors.Attributes{Message: "scenario failed", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeScenarioInconclusive, xerrors.Attributes{Message: "scenario inconclusive", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeUnknownScenario, xerrors.Attributes{Message: "unknown scenario", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAssertion, xerrors.Attributes{Message: "assertion failed", Severity: xerrors.SeverityWarning})
}

// StepResult records one judged step.
type StepResult struct {
	Name      string        `json:"name"`
	Verdict   Verdict       `json:"verdict"`
	Outcome   near.Outcome  `json:"outcome,omitempty"`
	Expected  string        `json:"expected,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	TxHash    string        `json:"tx_hash,omitempty"`
	ErrorCode xerrors.Code  `json:"error_code,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Report is the outcome of one scenario execution.
type Report struct {
	Scenario   string       `json:"scenario"`
	Network    string       `json:"network"`
	Verdict    Verdict      `json:"verdict"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Summarize derives the report verdict: failed wins over inconclusive, which
// wins over passed. Tolerated and skipped steps never change the verdict.
func Summarize(steps []StepResult) Verdict {
	verdict := VerdictPassed
	for _, step := range steps {
		switch step.Verdict {
		case VerdictFailed:
			return VerdictFailed
		case VerdictInconclusive:
			verdict = VerdictInconclusive
		}
	}
	return verdict
}

// Count returns how many steps ended with verdict.
func (r *Report) Count(verdict Verdict) int {
	n := 0
	for _, step := range r.Steps {
		if step.Verdict == verdict {
			n++
		}
	}
	return n
}

// Failed returns the first failed step, if any.
func (r *Report) Failed() (StepResult, bool) {
	for _, step := range r.Steps {
		if step.Verdict == VerdictFailed {
			return step, true
		}
	}
	return StepResult{}, false
}

// Err turns a non-passing report into a coded error. Inconclusive reports
// are retryable.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	switch r.Verdict {
	case VerdictFailed:
		msg := fmt.Sprintf("scenario %s failed", r.Scenario)
		if step, ok := r.Failed(); ok {
			msg = fmt.Sprintf("scenario %s failed at %s: %s", r.Scenario, step.Name, step.Detail)
		}
		return xerrors.New(CodeScenarioFailed, msg, xerrors.WithMetadata("network", r.Network))
	case VerdictInconclusive:
		return xerrors.New(CodeScenarioInconclusive,
			fmt.Sprintf("scenario %s inconclusive after %d transient steps", r.Scenario, r.Count(VerdictInconclusive)),
			xerrors.WithMetadata("network", r.Network))
	}
	return nil
}
