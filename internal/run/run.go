package run

import (
	"maps"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
)

// Status is where a run is in its lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	// StatusInconclusive means a transient failure; the run may be retried.
	StatusInconclusive Status = "inconclusive"
)

// Terminal reports whether the processor will never claim the run again.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// Run is one queued execution of a scenario.
type Run struct {
	ID         string            `json:"id"`
	Scenario   string            `json:"scenario"`
	Network    string            `json:"network"`
	Params     map[string]string `json:"params,omitempty"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Report     *scenario.Report  `json:"report,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Request submits a run.
type Request struct {
	ID       string            `json:"id,omitempty"`
	Scenario string            `json:"scenario"`
	Network  string            `json:"network,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

var (
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict means the run's status does not allow the operation.
	ErrRunConflict = xerrors.New(CodeRunConflict, "run conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRunCompleted means the run already has a verdict.
	ErrRunCompleted = xerrors.New(CodeRunCompleted, "run already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRunExhausted means no retries are left.
	ErrRunExhausted = xerrors.New(CodeRunExhausted, "run retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRunNotFound   xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict   xerrors.Code = "RUN_CONFLICT"
	CodeRunCompleted  xerrors.Code = "RUN_COMPLETED"
	CodeRunExhausted  xerrors.Code = "RUN_RETRIES_EXHAUSTED"
	CodeRunValidation xerrors.Code = "RUN_VALIDATION_FAILED"
	CodeRunPublish    xerrors.Code = "RUN_PUBLISH_FAILED"
	CodeRunProcessing xerrors.Code = "RUN_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRunCompleted, xerrors.Attributes{
		Message:  "run already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunExhausted, xerrors.Attributes{
		Message:  "run retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeRunValidation, xerrors.Attributes{
		Message:  "run validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunPublish, xerrors.Attributes{
		Message:   "failed to publish run",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRunProcessing, xerrors.Attributes{
		Message:   "run execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusInconclusive:
		return true
	default:
		return false
	}
}

func cloneRun(r *Run) *Run {
	clone := *r
	clone.Params = maps.Clone(r.Params)
	if r.Report != nil {
		report := *r.Report
		report.Steps = append([]scenario.StepResult(nil), r.Report.Steps...)
		clone.Report = &report
	}
	return &clone
}
