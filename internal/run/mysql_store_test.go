package run

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/storage/mysql/mysqltest"
)

var runColumnNames = []string{"id", "scenario", "network", "params", "status", "attempts", "max_retries", "last_error", "error_code", "report", "created_at", "updated_at"}

const selectRunByID = `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

func runRow(id string, status Status, attempts, maxRetries int64, report any) []driver.Value {
	return []driver.Value{id, "auction", "sandbox", `{"nft_contract":"nft.test.near"}`, string(status), attempts, maxRetries, "", "", report, int64(100), int64(200)}
}

func TestMySQLStoreCreateMapsDuplicateKey(t *testing.T) {
	db := mysqltest.Open(t,
		mysqltest.Exec("", mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec("", mysqltest.Result{}).WithError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	store := NewMySQLStoreWithDB(db)
	ctx := context.Background()

	r := &Run{ID: "r1", Scenario: "auction", Network: "sandbox", Status: StatusPending, MaxRetries: 3}
	require.NoError(t, store.Create(ctx, r))
	assert.NotZero(t, r.CreatedAt)

	err := store.Create(ctx, &Run{ID: "r1", Status: StatusPending})
	require.ErrorIs(t, err, ErrRunConflict)

	require.True(t, xerrors.HasCode(store.Create(ctx, &Run{}), xerrors.CodeInvalidArgument))
}

func TestMySQLStoreGetDecodesColumns(t *testing.T) {
	db := mysqltest.Open(t,
		mysqltest.Query(selectRunByID, mysqltest.Rows{
			Columns: runColumnNames,
			Values:  [][]driver.Value{runRow("r1", StatusPassed, 1, 3, `{"scenario":"auction","verdict":"passed","steps":[]}`)},
		}),
		mysqltest.Query(selectRunByID, mysqltest.Rows{Columns: runColumnNames}),
	)
	store := NewMySQLStoreWithDB(db)
	ctx := context.Background()

	r, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, r.Status)
	assert.Equal(t, "nft.test.near", r.Params["nft_contract"])
	require.NotNil(t, r.Report)
	assert.Equal(t, scenario.VerdictPassed, r.Report.Verdict)
	assert.EqualValues(t, 200, r.UpdatedAt)

	_, err = store.Get(ctx, "r2")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestMySQLStoreClaim(t *testing.T) {
	const claim = `UPDATE runs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	db := mysqltest.Open(t,
		mysqltest.Exec(claim, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Query(selectRunByID, mysqltest.Rows{
			Columns: runColumnNames,
			Values:  [][]driver.Value{runRow("r1", StatusRunning, 1, 3, nil)},
		}),
		mysqltest.Exec(claim, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query(selectRunByID, mysqltest.Rows{
			Columns: runColumnNames,
			Values:  [][]driver.Value{runRow("r2", StatusInconclusive, 3, 3, nil)},
		}),
		mysqltest.Exec(claim, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Query(selectRunByID, mysqltest.Rows{
			Columns: runColumnNames,
			Values:  [][]driver.Value{runRow("r3", StatusFailed, 1, 3, nil)},
		}),
	)
	store := NewMySQLStoreWithDB(db)
	ctx := context.Background()

	r, err := store.Claim(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Nil(t, r.Report)

	_, err = store.Claim(ctx, "r2")
	require.ErrorIs(t, err, ErrRunExhausted)

	_, err = store.Claim(ctx, "r3")
	require.ErrorIs(t, err, ErrRunCompleted)
}

func TestMySQLStoreMarkTransitions(t *testing.T) {
	db := mysqltest.Open(t,
		mysqltest.Exec(`UPDATE runs SET status = ?, report = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec(`UPDATE runs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Exec(`UPDATE runs SET status = ?, last_error = ?, error_code = ?, report = ?, updated_at = ? WHERE id = ?`, mysqltest.Result{RowsAffected: 0}),
	)
	store := NewMySQLStoreWithDB(db)
	ctx := context.Background()

	require.NoError(t, store.MarkPassed(ctx, "r1", &scenario.Report{Verdict: scenario.VerdictPassed}))
	require.NoError(t, store.MarkFailed(ctx, "r2", StatusInconclusive, scenario.CodeScenarioInconclusive, "rpc", nil))
	err := store.MarkFailed(ctx, "gone", StatusFailed, scenario.CodeScenarioFailed, "x", &scenario.Report{Verdict: scenario.VerdictFailed})
	require.ErrorIs(t, err, ErrRunNotFound)

	require.Error(t, store.MarkFailed(ctx, "r1", StatusRunning, "", "", nil))
}

func TestMySQLStoreListAndStats(t *testing.T) {
	const list = `SELECT ` + runColumns + ` FROM runs WHERE status IN (?,?) AND scenario = ? ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`
	db := mysqltest.Open(t,
		mysqltest.Query(list, mysqltest.Rows{
			Columns: runColumnNames,
			Values: [][]driver.Value{
				runRow("a", StatusFailed, 1, 3, nil),
				runRow("b", StatusInconclusive, 2, 3, nil),
			},
		}),
		mysqltest.Query("", mysqltest.Rows{
			Columns: []string{"total", "pending", "running", "passed", "failed", "inconclusive", "oldest", "newest"},
			Values:  [][]driver.Value{{int64(5), int64(1), int64(0), int64(2), int64(1), int64(1), int64(10), int64(50)}},
		}),
	)
	store := NewMySQLStoreWithDB(db)
	ctx := context.Background()

	runs, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, StatusInconclusive), WithScenario("auction")))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, StatusInconclusive, runs[1].Status)

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunStats{Total: 5, Pending: 1, Passed: 2, Failed: 1, Inconclusive: 1, OldestUpdatedAt: 10, NewestUpdatedAt: 50}, stats)
}

func TestBuildFilterClause(t *testing.T) {
	hasReport := false
	clause, args := buildFilterClause(ListOptions{Network: "testnet", UpdatedGTE: 5, HasReport: &hasReport})
	assert.Equal(t, "network = ? AND updated_at >= ? AND (report IS NULL OR report = '')", clause)
	assert.Equal(t, []any{"testnet", int64(5)}, args)

	clause, args = buildFilterClause(ListOptions{})
	assert.Empty(t, clause)
	assert.Nil(t, args)
}
