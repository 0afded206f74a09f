package scenario

import (
	"fmt"
	"strings"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3/near"
)

// Verdict is the judgement of one step or of a whole report.
type Verdict string

const (
	VerdictPassed Verdict = "passed"
	VerdictFailed Verdict = "failed"
	// VerdictInconclusive marks a step that hit a transient failure; the
	// contract behaviour it checks is unknown.
	VerdictInconclusive Verdict = "inconclusive"
	// VerdictTolerated marks a rejection the step explicitly allows, for
	// example initialising a contract that is already initialised.
	VerdictTolerated Verdict = "tolerated"
	VerdictSkipped   Verdict = "skipped"
)

// Ok reports whether later steps may rely on this one.
func (v Verdict) Ok() bool { return v == VerdictPassed || v == VerdictTolerated }

// Expectation is what a step declares about its call before making it.
type Expectation struct {
	reject   bool
	fragment string
	tolerate []string
}

// ExpectSuccess expects the call to settle without failure. A rejection whose
// message contains one of tolerate is accepted as tolerated.
func ExpectSuccess(tolerate ...string) Expectation {
	return Expectation{tolerate: tolerate}
}

// ExpectRejection expects the chain to reject the call. A non-empty fragment
// must appear in the rejection message.
func ExpectRejection(fragment string) Expectation {
	return Expectation{reject: true, fragment: fragment}
}

// Tolerating returns a copy that also tolerates rejections containing
// fragments.
func (e Expectation) Tolerating(fragments ...string) Expectation {
	e.tolerate = append(append([]string(nil), e.tolerate...), fragments...)
	return e
}

func (e Expectation) String() string {
	if e.reject {
		if e.fragment == "" {
			return "rejection"
		}
		return fmt.Sprintf("rejection containing %q", e.fragment)
	}
	return "success"
}

// Judge classifies err and compares it with the expectation. The returned
// detail explains every verdict other than passed.
func (e Expectation) Judge(err error) (Verdict, near.Outcome, string) {
	outcome := near.Classify(err)
	switch outcome {
	case near.OutcomeTransient:
		return VerdictInconclusive, outcome, err.Error()
	case near.OutcomeFaulted:
		return VerdictFailed, outcome, err.Error()
	case near.OutcomeSucceeded:
		if e.reject {
			return VerdictFailed, outcome, "expected " + e.String() + " but the call succeeded"
		}
		return VerdictPassed, outcome, ""
	}

	msg := err.Error()
	for _, fragment := range e.tolerate {
		if fragment != "" && strings.Contains(msg, fragment) {
			return VerdictTolerated, outcome, msg
		}
	}
	if !e.reject {
		return VerdictFailed, outcome, "unexpected rejection: " + msg
	}
	if e.fragment != "" && !strings.Contains(msg, e.fragment) {
		return VerdictFailed, outcome, fmt.Sprintf("expected %s, got %s", e.String(), msg)
	}
	return VerdictPassed, outcome, ""
}

// assertionError is returned by checks whose view result does not match.
func assertionError(format string, args ...any) error {
	return xerrors.New(CodeAssertion, fmt.Sprintf(format, args...))
}
