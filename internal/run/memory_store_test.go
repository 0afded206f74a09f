package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NFTMarket-Harness/internal/scenario"
)

func seedRuns(t *testing.T, store *MemoryStore, runs ...*Run) {
	t.Helper()
	for _, r := range runs {
		if r.MaxRetries == 0 {
			r.MaxRetries = 3
		}
		if r.Status == "" {
			r.Status = StatusPending
		}
		require.NoError(t, store.Create(context.Background(), r))
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	seedRuns(t, store,
		&Run{ID: "r1", Scenario: "series", Network: "sandbox"},
		&Run{ID: "r2", Scenario: "auction", Network: "sandbox"},
		&Run{ID: "r3", Scenario: "trade", Network: "testnet"},
	)
	require.NoError(t, store.MarkFailed(ctx, "r2", StatusFailed, scenario.CodeScenarioFailed, "boom", &scenario.Report{Verdict: scenario.VerdictFailed}))
	require.NoError(t, store.MarkPassed(ctx, "r3", &scenario.Report{Verdict: scenario.VerdictPassed}))

	store.mu.Lock()
	store.runs["r1"].UpdatedAt = base.Unix()
	store.runs["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID, "newest first")

	asc, err := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc)))
	require.NoError(t, err)
	assert.Equal(t, "r1", asc[0].ID)

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r2", failed[0].ID)

	withReport, err := store.List(ctx, BuildListOptions(WithReportPresence(true)))
	require.NoError(t, err)
	assert.Len(t, withReport, 2)

	onTestnet, err := store.List(ctx, BuildListOptions(WithNetwork("testnet")))
	require.NoError(t, err)
	require.Len(t, onTestnet, 1)
	assert.Equal(t, "trade", onTestnet[0].Scenario)

	auctions, err := store.List(ctx, BuildListOptions(WithScenario(" Auction ")))
	require.NoError(t, err)
	require.Len(t, auctions, 1)

	recent, err := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	paged, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "r2", paged[0].ID)

	beyond, err := store.List(ctx, BuildListOptions(WithOffset(10)))
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedRuns(t, store, &Run{ID: "a"}, &Run{ID: "b"}, &Run{ID: "c"}, &Run{ID: "d"})

	require.NoError(t, store.MarkFailed(ctx, "b", StatusFailed, scenario.CodeScenarioFailed, "boom", nil))
	require.NoError(t, store.MarkPassed(ctx, "c", &scenario.Report{Verdict: scenario.VerdictPassed}))
	require.NoError(t, store.MarkFailed(ctx, "d", StatusInconclusive, scenario.CodeScenarioInconclusive, "timeout", nil))

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunStats{
		Total:           4,
		Pending:         1,
		Passed:          1,
		Failed:          1,
		Inconclusive:    1,
		OldestUpdatedAt: stats.OldestUpdatedAt,
		NewestUpdatedAt: stats.NewestUpdatedAt,
	}, stats)
	assert.NotZero(t, stats.OldestUpdatedAt)

	empty, err := store.Stats(ctx, BuildListOptions(WithScenario("trade")))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.OldestUpdatedAt)
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedRuns(t, store, &Run{ID: "x", MaxRetries: 2})

	r, err := store.Claim(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, 1, r.Attempts)

	_, err = store.Claim(ctx, "x")
	require.ErrorIs(t, err, ErrRunConflict)

	require.NoError(t, store.MarkFailed(ctx, "x", StatusInconclusive, scenario.CodeScenarioInconclusive, "rpc", nil))
	r, err = store.Claim(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Attempts)
	assert.Empty(t, r.LastError)

	require.NoError(t, store.MarkFailed(ctx, "x", StatusInconclusive, scenario.CodeScenarioInconclusive, "rpc", nil))
	_, err = store.Claim(ctx, "x")
	require.ErrorIs(t, err, ErrRunExhausted)

	seedRuns(t, store, &Run{ID: "y"})
	require.NoError(t, store.MarkFailed(ctx, "y", StatusFailed, scenario.CodeScenarioFailed, "bad", nil))
	_, err = store.Claim(ctx, "y")
	require.ErrorIs(t, err, ErrRunCompleted)

	_, err = store.Claim(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	params := map[string]string{"nft_contract": "nft.test.near"}
	seedRuns(t, store, &Run{ID: "p", Params: params})

	params["nft_contract"] = "changed"
	got, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "nft.test.near", got.Params["nft_contract"])

	got.Params["nft_contract"] = "mutated"
	again, err := store.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "nft.test.near", again.Params["nft_contract"])

	require.ErrorIs(t, store.Create(ctx, &Run{ID: "p"}), ErrRunConflict)
	require.Error(t, store.MarkFailed(ctx, "p", StatusPassed, "", "", nil))
}
