package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"NFTMarket-Harness/deploy/migrations"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/storage/mysql/mysqltest"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

func TestSplitSQLStatements(t *testing.T) {
	content := `-- header
CREATE TABLE a (id INT);
-- second
CREATE INDEX idx ON a (id);

`
	stmts := splitSQLStatements(content)
	require.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX idx ON a (id)"}, stmts)
}

func TestParseMigrationVersion(t *testing.T) {
	require.Equal(t, "0001", parseMigrationVersion("0001_create_runs.sql"))
	require.Equal(t, "0002", parseMigrationVersion("0002.sql"))
	require.Equal(t, "plain", parseMigrationVersion("plain"))
}

func TestLoadMigrationFilesSortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql":   {Data: []byte("SELECT 2;")},
		"0001_a.sql":   {Data: []byte("SELECT 1;")},
		"README.md":    {Data: []byte("docs")},
		"0003_c.sql":   {Data: []byte("-- only a comment\n")},
		"nested/x.sql": {Data: []byte("SELECT 3;")},
	}
	files, err := loadMigrationFiles(fsys)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "0001", files[0].version)
	require.Equal(t, "0002", files[1].version)
}

func TestMigrateFSAppliesPendingVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_b.sql": {Data: []byte("CREATE TABLE b (id INT); CREATE INDEX ib ON b (id);")},
	}
	db := mysqltest.Open(t,
		mysqltest.Exec(createMigrationsTable, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE TABLE b (id INT)`, mysqltest.Result{RowsAffected: 0}),
		mysqltest.Exec(`CREATE INDEX ib ON b (id)`, mysqltest.Result{}),
		mysqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Commit(),
	)
	require.NoError(t, MigrateFS(context.Background(), db, fsys))
}

func TestMigrateFSRollsBackFailedStatement(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("CREATE TABLE a (id INT);")},
	}
	db := mysqltest.Open(t,
		mysqltest.Exec(createMigrationsTable, mysqltest.Result{}),
		mysqltest.Query(`SELECT version FROM schema_migrations`, mysqltest.Rows{Columns: []string{"version"}}),
		mysqltest.Begin(),
		mysqltest.Exec(`CREATE TABLE a (id INT)`, mysqltest.Result{}).WithError(errors.New("syntax")),
		mysqltest.Rollback(),
	)
	err := MigrateFS(context.Background(), db, fsys)
	require.Error(t, err)
	require.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
}

func TestBuiltinMigrationsParse(t *testing.T) {
	files, err := loadMigrationFiles(migrations.Files)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Contains(t, files[0].statements[0], "CREATE TABLE IF NOT EXISTS runs")
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestOpenPingsScriptedDriver(t *testing.T) {
	_, name := mysqltest.New(t)
	db, err := open(context.Background(), name, Config{MaxOpenConns: 2})
	require.NoError(t, err)
	require.Equal(t, 2, db.Stats().MaxOpenConnections)
	require.NoError(t, db.Close())
}
