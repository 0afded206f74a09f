package run

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
)

// MemoryStore keeps runs in process, for single instance deployments and
// tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (m *MemoryStore) Create(_ context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run is nil")
	}
	if r.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; ok {
		return ErrRunConflict
	}
	now := time.Now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.runs[r.ID] = cloneRun(r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(r), nil
}

func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	switch r.Status {
	case StatusPassed, StatusFailed:
		return cloneRun(r), ErrRunCompleted
	case StatusRunning:
		return cloneRun(r), ErrRunConflict
	}
	if r.Attempts >= r.MaxRetries {
		return cloneRun(r), ErrRunExhausted
	}
	r.Status = StatusRunning
	r.Attempts++
	r.LastError = ""
	r.ErrorCode = ""
	r.UpdatedAt = time.Now().Unix()
	return cloneRun(r), nil
}

func (m *MemoryStore) MarkPassed(_ context.Context, id string, report *scenario.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	r.Status = StatusPassed
	r.Report = report
	r.LastError = ""
	r.ErrorCode = ""
	r.UpdatedAt = time.Now().Unix()
	m.runs[id] = cloneRun(r)
	return nil
}

// MarkFailed ends an attempt as failed or inconclusive. A nil report keeps
// the previous one.
func (m *MemoryStore) MarkFailed(_ context.Context, id string, status Status, code xerrors.Code, lastError string, report *scenario.Report) error {
	if status != StatusFailed && status != StatusInconclusive {
		return xerrors.New(xerrors.CodeInvalidArgument, "invalid failure status: "+string(status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	r.Status = status
	r.LastError = lastError
	r.ErrorCode = string(code)
	if report != nil {
		r.Report = report
	}
	r.UpdatedAt = time.Now().Unix()
	m.runs[id] = cloneRun(r)
	return nil
}

// List returns the runs matching opts.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if !matchesListFilters(r, opts) {
			continue
		}
		results = append(results, cloneRun(r))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Run{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats counts matching runs and their update time range.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (RunStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := RunStats{}
	for _, r := range m.runs {
		if matchesListFilters(r, opts) {
			stats.add(r)
		}
	}
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
