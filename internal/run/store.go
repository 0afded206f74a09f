package run

import (
	"context"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
)

// Store persists runs.
type Store interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim moves a pending run, or an inconclusive one with retries left,
	// to running.
	Claim(ctx context.Context, id string) (*Run, error)
	MarkPassed(ctx context.Context, id string, report *scenario.Report) error
	// MarkFailed ends an attempt as failed or inconclusive.
	MarkFailed(ctx context.Context, id string, status Status, code xerrors.Code, lastError string, report *scenario.Report) error
	List(ctx context.Context, opts ListOptions) ([]*Run, error)
	Stats(ctx context.Context, opts ListOptions) (RunStats, error)
	Close() error
}
