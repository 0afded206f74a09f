package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"maps"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/observability/alerting"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/pkg/logger"
)

// Executor runs one scenario; scenario.Executor satisfies it. The error only
// covers setup, step failures live in the report.
type Executor interface {
	Execute(ctx context.Context, name, network string, params map[string]string) (*scenario.Report, error)
}

// Processor consumes queued runs and hands them to the executor.
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

type ProcessorOption func(*Processor)

func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRunTimeout bounds a single attempt.
func WithRunTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = timeout
	}
}

func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("run"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start consumes runs until ctx ends.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "no run consumer configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Resume republishes runs without a verdict, refilling an in-memory queue
// after a restart. Runs left running were interrupted and become
// inconclusive first.
func (p *Processor) Resume(ctx context.Context) (int, error) {
	runs, err := p.store.List(ctx, BuildListOptions(
		WithStatuses(StatusPending, StatusRunning, StatusInconclusive),
		WithSortOrder(SortByUpdatedAsc),
		WithLimit(100),
	))
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, r := range runs {
		if r.Status == StatusRunning {
			if err := p.store.MarkFailed(ctx, r.ID, StatusInconclusive, CodeRunProcessing, "interrupted", nil); err != nil {
				return resumed, err
			}
		}
		if r.Attempts >= r.MaxRetries {
			continue
		}
		if err := p.producer.Publish(ctx, r.ID); err != nil {
			return resumed, xerrors.Wrap(CodeRunPublish, err, "resume run", xerrors.WithMetadata("run_id", r.ID))
		}
		resumed++
	}
	if resumed > 0 {
		p.logger.Info("runs resumed", slog.Int("count", resumed))
	}
	return resumed, nil
}

func (p *Processor) handle(ctx context.Context, runID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "processor is not initialized")
	}
	r, err := p.store.Claim(ctx, runID)
	if err != nil {
		if stdErrors.Is(err, ErrRunNotFound) || stdErrors.Is(err, ErrRunCompleted) ||
			stdErrors.Is(err, ErrRunExhausted) || stdErrors.Is(err, ErrRunConflict) {
			p.logger.Debug("skip run", slog.String("run_id", runID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("claim run failed", slog.Any("error", err), slog.String("run_id", runID))
		p.emitAlert(ctx, &Run{ID: runID}, CodeRunProcessing, err, "claim")
		return err
	}
	metrics.ObserveRun(string(StatusRunning))

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	report, execErr := p.executor.Execute(runCtx, r.Scenario, r.Network, maps.Clone(r.Params))
	if execErr == nil && report == nil {
		execErr = xerrors.New(CodeRunProcessing, "executor returned no report")
	}

	// Results are written even after the attempt timed out or shutdown began.
	writeCtx := context.WithoutCancel(ctx)
	if execErr != nil {
		return p.handleSetupFailure(ctx, writeCtx, r, execErr)
	}
	return p.record(ctx, writeCtx, r, report)
}

func (p *Processor) record(ctx, writeCtx context.Context, r *Run, report *scenario.Report) error {
	if report.Verdict == scenario.VerdictPassed {
		if err := p.store.MarkPassed(writeCtx, r.ID, report); err != nil {
			p.logger.Error("mark run passed failed", slog.Any("error", err), slog.String("run_id", r.ID))
			return err
		}
		p.finish(r, StatusPassed, "", nil)
		return nil
	}

	status := StatusFailed
	if report.Verdict == scenario.VerdictInconclusive {
		status = StatusInconclusive
	}
	cause := report.Err()
	code := xerrors.CodeOf(cause)
	if err := p.store.MarkFailed(writeCtx, r.ID, status, code, cause.Error(), report); err != nil {
		p.logger.Error("mark run failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return err
	}
	p.finish(r, status, code, cause)
	return p.afterFailure(ctx, r, status, code, cause)
}

func (p *Processor) handleSetupFailure(ctx, writeCtx context.Context, r *Run, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeRunProcessing
	}
	status := StatusFailed
	if near.Classify(execErr) == near.OutcomeTransient {
		status = StatusInconclusive
	}
	if err := p.store.MarkFailed(writeCtx, r.ID, status, code, execErr.Error(), nil); err != nil {
		p.logger.Error("mark run failed", slog.Any("error", err), slog.String("run_id", r.ID))
		return err
	}
	p.finish(r, status, code, execErr)
	return p.afterFailure(ctx, r, status, code, execErr)
}

// afterFailure republishes inconclusive runs only; failed is a verdict.
func (p *Processor) afterFailure(ctx context.Context, r *Run, status Status, code xerrors.Code, cause error) error {
	if status == StatusFailed {
		p.emitAlert(ctx, r, code, cause, "terminal")
		return nil
	}
	if r.Attempts >= r.MaxRetries {
		p.emitAlert(ctx, r, CodeRunExhausted, cause, "exhausted")
		return nil
	}
	if ctx.Err() != nil {
		// Shutting down; Resume picks it up.
		return nil
	}
	if err := p.producer.Publish(ctx, r.ID); err != nil {
		return xerrors.Wrap(CodeRunPublish, err, "republish run", xerrors.WithMetadata("run_id", r.ID))
	}
	p.logger.Debug("run requeued", slog.String("run_id", r.ID), slog.Int("attempts", r.Attempts))
	return nil
}

func (p *Processor) finish(r *Run, status Status, code xerrors.Code, cause error) {
	metrics.ObserveRun(string(status))
	attrs := []any{
		slog.String("run_id", r.ID),
		slog.String("scenario", r.Scenario),
		slog.String("network", r.Network),
		slog.String("status", string(status)),
		slog.Int("attempts", r.Attempts),
		slog.Int("max_retries", r.MaxRetries),
	}
	if cause == nil {
		logger.Audit().Info("run finished", attrs...)
		return
	}
	attrs = append(attrs, slog.String("error", cause.Error()), slog.String("error_code", string(code)))
	logger.Audit().Warn("run finished", attrs...)
}

func (p *Processor) emitAlert(ctx context.Context, r *Run, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || r == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		for k, v := range xerrors.MetadataOf(cause) {
			metadata[k] = v
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      r.ID,
		Scenario:   r.Scenario,
		Network:    r.Network,
		Attempts:   r.Attempts,
		MaxRetries: r.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("alert notify failed",
			slog.Any("error", err),
			slog.String("run_id", r.ID),
			slog.String("stage", stage),
		)
	}
}
