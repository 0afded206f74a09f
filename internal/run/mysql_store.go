package run

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/scenario"
	mysqlstore "NFTMarket-Harness/internal/storage/mysql"
)

const runColumns = `id, scenario, network, params, status, attempts, max_retries, last_error, error_code, report, created_at, updated_at`

// MySQLStore keeps runs in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a pool and applies the built-in migrations.
func NewMySQLStore(ctx context.Context, cfg mysqlstore.Config) (*MySQLStore, error) {
	db, err := mysqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := mysqlstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreWithDB uses an already migrated pool.
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Create(ctx context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id is required")
	}

	now := time.Now().Unix()
	r.CreatedAt = now
	r.UpdatedAt = now

	params, err := marshalColumn(r.Params, len(r.Params) == 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run params")
	}

	const stmt = `INSERT INTO runs
        (id, scenario, network, params, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		r.ID,
		r.Scenario,
		r.Network,
		params,
		string(r.Status),
		r.Attempts,
		r.MaxRetries,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert run")
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run")
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run")
		}
		return nil, ErrRunNotFound
	}
	return scanRun(rows)
}

// Claim marks the run running and returns it.
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Run, error) {
	const updateStmt = `UPDATE runs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
		string(StatusInconclusive),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "update run status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "rows affected")
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return r, nil
	}
	switch {
	case r.Status.Terminal():
		return r, ErrRunCompleted
	case r.Status == StatusRunning:
		return r, ErrRunConflict
	case r.Attempts >= r.MaxRetries:
		return r, ErrRunExhausted
	default:
		return r, ErrRunConflict
	}
}

func (s *MySQLStore) MarkPassed(ctx context.Context, id string, report *scenario.Report) error {
	encoded, err := marshalColumn(report, report == nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run report")
	}
	const stmt = `UPDATE runs SET status = ?, report = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	return s.update(ctx, stmt, "mark run passed", string(StatusPassed), encoded, time.Now().Unix(), id)
}

// MarkFailed ends an attempt as failed or inconclusive. A nil report keeps
// the previous one.
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, status Status, code xerrors.Code, lastError string, report *scenario.Report) error {
	if status != StatusFailed && status != StatusInconclusive {
		return xerrors.New(xerrors.CodeInvalidArgument, "invalid failure status: "+string(status))
	}
	now := time.Now().Unix()
	if report == nil {
		const stmt = `UPDATE runs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
		return s.update(ctx, stmt, "mark run failed", string(status), lastError, string(code), now, id)
	}
	encoded, err := marshalColumn(report, false)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run report")
	}
	const stmt = `UPDATE runs SET status = ?, last_error = ?, error_code = ?, report = ?, updated_at = ? WHERE id = ?`
	return s.update(ctx, stmt, "mark run failed", string(status), lastError, string(code), encoded, now, id)
}

func (s *MySQLStore) update(ctx context.Context, stmt, msg string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// List returns the runs matching opts.
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()

	query := `SELECT ` + runColumns + ` FROM runs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list runs")
	}
	defer rows.Close()

	runs := make([]*Run, 0, opts.Limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate runs")
	}
	return runs, nil
}

// Stats aggregates the runs matching opts.
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (RunStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS passed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS inconclusive,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM runs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending),
		string(StatusRunning),
		string(StatusPassed),
		string(StatusFailed),
		string(StatusInconclusive),
	}
	args = append(args, filterArgs...)

	var stats RunStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Passed,
		&stats.Failed,
		&stats.Inconclusive,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return RunStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query run stats")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		r         Run
		status    string
		params    sql.NullString
		lastError sql.NullString
		report    sql.NullString
	)
	if err := rows.Scan(
		&r.ID,
		&r.Scenario,
		&r.Network,
		&params,
		&status,
		&r.Attempts,
		&r.MaxRetries,
		&lastError,
		&r.ErrorCode,
		&report,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan run")
	}
	r.Status = Status(status)
	r.LastError = lastError.String
	if params.Valid && strings.TrimSpace(params.String) != "" {
		if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run params")
		}
	}
	if report.Valid && strings.TrimSpace(report.String) != "" {
		r.Report = new(scenario.Report)
		if err := json.Unmarshal([]byte(report.String), r.Report); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run report")
		}
	}
	return &r, nil
}

func marshalColumn(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Scenario != "" {
		conditions = append(conditions, "scenario = ?")
		args = append(args, opts.Scenario)
	}
	if opts.Network != "" {
		conditions = append(conditions, "network = ?")
		args = append(args, opts.Network)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasReport != nil {
		if *opts.HasReport {
			conditions = append(conditions, "(report IS NOT NULL AND report <> '')")
		} else {
			conditions = append(conditions, "(report IS NULL OR report = '')")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
