package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/reshape/internal/database"
	sqlitedb "github.com/koustreak/reshape/internal/database/sqlite"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

func openDB(t *testing.T) database.DB {
	t.Helper()
	cfg := database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "reshape.db"))
	db, err := sqlitedb.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func newTestSchema(t *testing.T) (*Schema, database.DB) {
	t.Helper()
	db := openDB(t)
	return New(db, WithCache(schema.NewMemoryCache(0))), db
}

// createUsers creates users(id autoincrement, name, legacy_flag) with an
// index on name and three rows, the last of which is deleted again.
func createUsers(t *testing.T, s *Schema, db database.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, "users", []schema.Column{
		{Name: "id", Type: schema.AutoincrementKey()},
		{Name: "name", Type: schema.String(80), NotNull: true},
		{Name: "legacy_flag", Type: schema.Integer(), Default: 0},
	}))
	require.NoError(t, s.AddIndex(ctx, "users", []string{"name"}, schema.IndexOptions{}))
	mustExec(t, db, `INSERT INTO users (name, legacy_flag) VALUES ('ada', 1), ('grace', 0), ('linus', 1)`)
	mustExec(t, db, `DELETE FROM users WHERE id = 3`)
}

func mustExec(t *testing.T, db database.Execer, sql string, args ...any) {
	t.Helper()
	_, err := db.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

func columnNames(t *testing.T, s *Schema, table string) []string {
	t.Helper()
	cols, err := s.Columns(context.Background(), table)
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func indexNames(t *testing.T, s *Schema, table string) []string {
	t.Helper()
	idx, err := s.Indexes(context.Background(), table)
	require.NoError(t, err)
	names := make([]string, len(idx))
	for i, ix := range idx {
		names[i] = ix.Name
	}
	return names
}

func fingerprint(t *testing.T, db database.DB, table string) string {
	t.Helper()
	fp, err := schema.Fingerprint(context.Background(), New(db), table)
	require.NoError(t, err)
	return fp
}

// --- reader ---

func TestReader_Columns(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE items (
		code varchar(20) NOT NULL,
		status varchar(20) DEFAULT 'new',
		created datetime DEFAULT CURRENT_TIMESTAMP,
		active boolean DEFAULT 1,
		ratio float DEFAULT 0.5,
		blob_data blob,
		anything,
		PRIMARY KEY (code)
	)`)

	cols, err := s.Columns(ctx, "items")
	require.NoError(t, err)
	require.Len(t, cols, 7)

	assert.Equal(t, schema.Column{Name: "code", Type: schema.String(20), NotNull: true}, cols[0])
	assert.Equal(t, "new", cols[1].Default)
	assert.Equal(t, schema.Expr("CURRENT_TIMESTAMP"), cols[2].Default)
	assert.Equal(t, true, cols[3].Default)
	assert.Equal(t, 0.5, cols[4].Default)
	assert.Equal(t, schema.Binary(), cols[5].Type)
	assert.Equal(t, schema.Native(""), cols[6].Type)

	pk, err := s.PrimaryKey(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, []string{"code"}, pk.Columns)
	assert.True(t, pk.Primary)

	// The key autoindex is not reported.
	assert.Empty(t, indexNames(t, s, "items"))
}

func TestReader_MissingTable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSchema(t)

	_, err := s.Columns(ctx, "ghosts")
	assert.True(t, errs.IsNotFound(err))
	_, err = s.Indexes(ctx, "ghosts")
	assert.True(t, errs.IsNotFound(err))
	_, err = s.PrimaryKey(ctx, "ghosts")
	assert.True(t, errs.IsNotFound(err))
	_, err = s.IsAutoincrementColumn(ctx, "ghosts", "id")
	assert.True(t, errs.IsNotFound(err))

	ok, err := s.TableExists(ctx, "ghosts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReader_CompositeKeyOrder(t *testing.T) {
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE memberships (group_id integer, user_id integer, PRIMARY KEY (user_id, group_id))`)

	pk, err := s.PrimaryKey(context.Background(), "memberships")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "group_id"}, pk.Columns)
}

func TestReader_IsAutoincrementColumn(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE a (id INTEGER PRIMARY KEY AUTOINCREMENT, body text)`)
	mustExec(t, db, `CREATE TABLE b ("id" integer primary key autoincrement)`)
	mustExec(t, db, `CREATE TABLE c (id INTEGER PRIMARY KEY, body text)`)

	for table, want := range map[string]bool{"a": true, "b": true, "c": false} {
		got, err := s.IsAutoincrementColumn(ctx, table, "id")
		require.NoError(t, err)
		assert.Equal(t, want, got, table)
	}
	got, err := s.IsAutoincrementColumn(ctx, "a", "body")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestAddColumn_KeepsSequenceWithNotNullKey(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE t (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, v text)`)
	mustExec(t, db, `INSERT INTO t (v) VALUES ('a'), ('b')`)
	mustExec(t, db, `DELETE FROM t WHERE id = 2`)

	require.NoError(t, s.AddColumn(ctx, "t", schema.Column{Name: "w", Type: schema.String(10)}))

	auto, err := s.IsAutoincrementColumn(ctx, "t", "id")
	require.NoError(t, err)
	assert.True(t, auto)

	mustExec(t, db, `INSERT INTO t (v) VALUES ('c')`)
	var id int64
	require.NoError(t, db.QueryRow(ctx, `SELECT id FROM t WHERE v = 'c'`).Scan(&id))
	assert.Equal(t, int64(3), id, "deleted id must not be handed out again")
}

func TestRemoveColumn_QuotedAutoincrementKey(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE "we""ird" ("i""d" INTEGER PRIMARY KEY AUTOINCREMENT, v text, extra text)`)
	mustExec(t, db, `INSERT INTO "we""ird" (v) VALUES ('a'), ('b')`)
	mustExec(t, db, `DELETE FROM "we""ird" WHERE v = 'b'`)

	auto, err := s.IsAutoincrementColumn(ctx, `we"ird`, `i"d`)
	require.NoError(t, err)
	require.True(t, auto)

	require.NoError(t, s.RemoveColumn(ctx, `we"ird`, "extra"))

	auto, err = s.IsAutoincrementColumn(ctx, `we"ird`, `i"d`)
	require.NoError(t, err)
	assert.True(t, auto)

	mustExec(t, db, `INSERT INTO "we""ird" (v) VALUES ('c')`)
	var id int64
	require.NoError(t, db.QueryRow(ctx, `SELECT "i""d" FROM "we""ird" WHERE v = 'c'`).Scan(&id))
	assert.Equal(t, int64(3), id)
}

func TestReader_Tables(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	mustExec(t, db, `CREATE TABLE posts (title text)`)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, tables, "sqlite_sequence must not be listed")
}

func TestReader_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	cache := schema.NewMemoryCache(0)
	db := openDB(t)
	s := New(db, WithCache(cache))
	mustExec(t, db, `CREATE TABLE notes (body text)`)

	_, err := s.Columns(ctx, "notes")
	require.NoError(t, err)
	_, ok := cache.Get(schema.ColumnsKey("notes"))
	assert.True(t, ok)

	// A change behind the migrator's back stays invisible until invalidated.
	mustExec(t, db, `ALTER TABLE notes ADD COLUMN extra text`)
	assert.Equal(t, []string{"body"}, columnNames(t, s, "notes"))

	schema.Invalidate(cache, "notes")
	assert.Equal(t, []string{"body", "extra"}, columnNames(t, s, "notes"))
}

// --- native statements ---

func TestSchema_TableAndIndexStatements(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	assert.Equal(t, []string{"index_users_on_name"}, indexNames(t, s, "users"))

	require.NoError(t, s.AddIndex(ctx, "users", []string{"legacy_flag", "name"}, schema.IndexOptions{Name: "by_flag", Unique: true}))
	idx, err := s.Indexes(ctx, "users")
	require.NoError(t, err)
	require.Len(t, idx, 2)

	require.NoError(t, s.RemoveIndex(ctx, "users", "by_flag"))
	assert.Equal(t, []string{"index_users_on_name"}, indexNames(t, s, "users"))

	assert.True(t, errs.IsInvalidInput(s.AddIndex(ctx, "users", nil, schema.IndexOptions{})))

	require.NoError(t, s.RenameTable(ctx, "users", "people"))
	ok, err := s.TableExists(ctx, "users")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"id", "name", "legacy_flag"}, columnNames(t, s, "people"))

	require.NoError(t, s.DropTable(ctx, "people"))
	_, err = s.Columns(ctx, "people")
	assert.True(t, errs.IsNotFound(err))
}

func TestSchema_TransactionState(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSchema(t)

	assert.True(t, errs.IsPrecondition(s.Commit(ctx)))
	assert.True(t, errs.IsPrecondition(s.Rollback(ctx)))

	require.NoError(t, s.Begin(ctx))
	assert.True(t, s.InTransaction())
	assert.True(t, errs.IsPrecondition(s.Begin(ctx)))
	require.NoError(t, s.Commit(ctx))
	assert.False(t, s.InTransaction())
}

// --- rebuilds ---

func TestRemoveColumn(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	require.NoError(t, s.RemoveColumn(ctx, "users", "legacy_flag"))

	assert.Equal(t, []string{"id", "name"}, columnNames(t, s, "users"))
	assert.Equal(t, []string{"index_users_on_name"}, indexNames(t, s, "users"))

	pk, err := s.PrimaryKey(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Columns)
	auto, err := s.IsAutoincrementColumn(ctx, "users", "id")
	require.NoError(t, err)
	assert.True(t, auto)

	var names string
	require.NoError(t, db.QueryRow(ctx, `SELECT group_concat(id || ':' || name, ',') FROM (SELECT * FROM users ORDER BY id)`).Scan(&names))
	assert.Equal(t, "1:ada,2:grace", names)

	// The sequence survives the rebuild: id 3 was handed out and deleted.
	mustExec(t, db, `INSERT INTO users (name) VALUES ('ken')`)
	var id int64
	require.NoError(t, db.QueryRow(ctx, `SELECT id FROM users WHERE name = 'ken'`).Scan(&id))
	assert.Equal(t, int64(4), id)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
}

func TestRemoveColumn_UntypedColumns(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE loose (a, b DEFAULT 'x''y', c text)`)
	mustExec(t, db, `INSERT INTO loose (a, c) VALUES (1, 'z')`)

	require.NoError(t, s.RemoveColumn(ctx, "loose", "c"))

	var ddl string
	require.NoError(t, db.QueryRow(ctx, `SELECT sql FROM sqlite_master WHERE name = 'loose'`).Scan(&ddl))
	assert.Contains(t, ddl, "  \"a\",\n")
	assert.Contains(t, ddl, `"b" DEFAULT 'x''y'`)
	assert.NotContains(t, ddl, " ,")

	var b string
	require.NoError(t, db.QueryRow(ctx, `SELECT b FROM loose`).Scan(&b))
	assert.Equal(t, "x'y", b)
}

func TestRemoveColumn_DropsIndexesOnIt(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	require.NoError(t, s.AddIndex(ctx, "users", []string{"name", "legacy_flag"}, schema.IndexOptions{}))

	require.NoError(t, s.RemoveColumn(ctx, "users", "legacy_flag"))
	assert.Equal(t, []string{"index_users_on_name"}, indexNames(t, s, "users"))

	assert.True(t, errs.IsNotFound(s.RemoveColumn(ctx, "users", "legacy_flag")))
}

func TestRenameColumn(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	require.NoError(t, s.RenameColumn(ctx, "users", "name", "full_name"))

	cols, err := s.Columns(ctx, "users")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, schema.Column{Name: "full_name", Type: schema.String(80), NotNull: true}, cols[1])
	assert.Equal(t, int64(0), cols[2].Default)

	idx, err := s.Indexes(ctx, "users")
	require.NoError(t, err)
	require.Len(t, idx, 1)
	assert.Equal(t, "index_users_on_name", idx[0].Name)
	assert.Equal(t, []string{"full_name"}, idx[0].Columns)

	var n int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE full_name IN ('ada', 'grace')`).Scan(&n))
	assert.Equal(t, 2, n)

	assert.NoError(t, s.RenameColumn(ctx, "users", "full_name", "full_name"))
	assert.True(t, errs.IsNotFound(s.RenameColumn(ctx, "users", "nope", "x")))
	assert.True(t, errs.IsInvalidInput(s.RenameColumn(ctx, "users", "full_name", "id")))
}

func TestRenameColumn_Swap(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE pairs (a text, b text)`)
	mustExec(t, db, `INSERT INTO pairs VALUES ('left', 'right')`)

	require.NoError(t, s.RenameColumn(ctx, "pairs", "a", "c"))
	require.NoError(t, s.RenameColumn(ctx, "pairs", "b", "a"))

	var a, c string
	require.NoError(t, db.QueryRow(ctx, `SELECT a, c FROM pairs`).Scan(&a, &c))
	assert.Equal(t, "right", a)
	assert.Equal(t, "left", c)
}

func TestAddColumn(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	require.NoError(t, s.AddColumn(ctx, "users", schema.Column{
		Name: "email", Type: schema.String(0), NotNull: true, Default: "unknown",
	}))

	assert.Equal(t, []string{"id", "name", "legacy_flag", "email"}, columnNames(t, s, "users"))
	var email string
	require.NoError(t, db.QueryRow(ctx, `SELECT email FROM users WHERE id = 1`).Scan(&email))
	assert.Equal(t, "unknown", email)

	assert.True(t, errs.IsInvalidInput(s.AddColumn(ctx, "users", schema.Column{Name: "email", Type: schema.Text()})))
}

func TestAddColumn_RefusedInTransaction(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	before := fingerprint(t, db, "users")

	require.NoError(t, s.Begin(ctx))
	err := s.AddColumn(ctx, "users", schema.Column{Name: "email", Type: schema.Text()})
	assert.True(t, errs.IsPrecondition(err))
	require.NoError(t, s.Rollback(ctx))

	assert.Equal(t, before, fingerprint(t, db, "users"))
}

func TestChangeColumn(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	nullable := false

	require.NoError(t, s.ChangeColumn(ctx, "users", "name", schema.Text(), schema.ChangeOptions{NotNull: &nullable}))
	require.NoError(t, s.ChangeColumn(ctx, "users", "legacy_flag", schema.Boolean(), schema.ChangeOptions{}))

	cols, err := s.Columns(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, schema.Column{Name: "name", Type: schema.Text()}, cols[1])
	assert.Equal(t, schema.Boolean(), cols[2].Type)
	assert.Equal(t, false, cols[2].Default)

	mustExec(t, db, `INSERT INTO users (name) VALUES (NULL)`)
	assert.True(t, errs.IsNotFound(s.ChangeColumn(ctx, "users", "nope", schema.Text(), schema.ChangeOptions{})))
}

func TestChangeColumn_DemotedKeyStaysPrimary(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	require.NoError(t, s.ChangeColumn(ctx, "users", "id", schema.Integer(), schema.ChangeOptions{}))

	pk, err := s.PrimaryKey(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Columns)
	auto, err := s.IsAutoincrementColumn(ctx, "users", "id")
	require.NoError(t, err)
	assert.False(t, auto)

	var n int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestChangeColumnDefault(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)

	require.NoError(t, s.ChangeColumnDefault(ctx, "users", "name", "anonymous"))
	mustExec(t, db, `INSERT INTO users (legacy_flag) VALUES (1)`)
	var name string
	require.NoError(t, db.QueryRow(ctx, `SELECT name FROM users ORDER BY id DESC LIMIT 1`).Scan(&name))
	assert.Equal(t, "anonymous", name)

	require.NoError(t, s.ChangeColumnDefault(ctx, "users", "legacy_flag", nil))
	cols, err := s.Columns(ctx, "users")
	require.NoError(t, err)
	assert.Nil(t, cols[2].Default)

	assert.True(t, errs.IsInvalidInput(s.ChangeColumnDefault(ctx, "users", "id", 7)))
}

func TestPrimaryKey_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	require.NoError(t, s.CreateTable(ctx, "tags", []schema.Column{
		{Name: "slug", Type: schema.String(40), NotNull: true},
		{Name: "label", Type: schema.Text()},
	}))
	mustExec(t, db, `INSERT INTO tags VALUES ('go', 'Go'), ('db', 'Databases')`)
	before := fingerprint(t, db, "tags")

	require.NoError(t, s.AddPrimaryKey(ctx, "tags", "slug"))
	pk, err := s.PrimaryKey(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"slug"}, pk.Columns)
	assert.NotEqual(t, before, fingerprint(t, db, "tags"))

	_, err = db.Exec(ctx, `INSERT INTO tags VALUES ('go', 'again')`)
	assert.True(t, errs.IsConflict(err))

	require.NoError(t, s.RemovePrimaryKey(ctx, "tags"))
	pk, err = s.PrimaryKey(ctx, "tags")
	require.NoError(t, err)
	assert.Empty(t, pk.Columns)
	assert.Equal(t, before, fingerprint(t, db, "tags"))

	assert.True(t, errs.IsInvalidInput(s.AddPrimaryKey(ctx, "tags", "missing")))
}

func TestAddThenRemoveColumn_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	before := fingerprint(t, db, "users")

	require.NoError(t, s.AddColumn(ctx, "users", schema.Column{Name: "nickname", Type: schema.String(30)}))
	assert.NotEqual(t, before, fingerprint(t, db, "users"))
	require.NoError(t, s.RemoveColumn(ctx, "users", "nickname"))

	assert.Equal(t, before, fingerprint(t, db, "users"))
}

func TestRebuild_CompositeKeyAndPlainRowid(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE memberships (user_id integer NOT NULL, group_id integer NOT NULL, note text, PRIMARY KEY (user_id, group_id))`)
	mustExec(t, db, `CREATE TABLE notes (id INTEGER PRIMARY KEY, body text, extra text)`)
	mustExec(t, db, `INSERT INTO memberships VALUES (1, 2, 'x')`)
	mustExec(t, db, `INSERT INTO notes (body) VALUES ('hello')`)

	require.NoError(t, s.RemoveColumn(ctx, "memberships", "note"))
	pk, err := s.PrimaryKey(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "group_id"}, pk.Columns)

	require.NoError(t, s.RemoveColumn(ctx, "notes", "extra"))
	pk, err = s.PrimaryKey(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Columns)
	auto, err := s.IsAutoincrementColumn(ctx, "notes", "id")
	require.NoError(t, err)
	assert.False(t, auto, "a plain rowid key must not become autoincrement")
}

func TestRebuild_UniqueConstraintBecomesIndex(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	mustExec(t, db, `CREATE TABLE accounts (email text UNIQUE, note text)`)
	mustExec(t, db, `INSERT INTO accounts VALUES ('a@example.com', 'x')`)

	require.NoError(t, s.RemoveColumn(ctx, "accounts", "note"))

	idx, err := s.Indexes(ctx, "accounts")
	require.NoError(t, err)
	require.Len(t, idx, 1)
	assert.Equal(t, "index_accounts_on_email", idx[0].Name)
	assert.True(t, idx[0].Unique)

	_, err = db.Exec(ctx, `INSERT INTO accounts VALUES ('a@example.com')`)
	assert.True(t, errs.IsConflict(err))
}

func TestRebuild_MissingTable(t *testing.T) {
	s, _ := newTestSchema(t)
	err := s.RemoveColumn(context.Background(), "ghosts", "id")
	assert.True(t, errs.IsNotFound(err))
	assert.False(t, s.InTransaction())
}

// --- transactions and atomicity ---

func TestRebuild_JoinsCallerTransaction(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSchema(t)
	createUsers(t, s, db)
	before := fingerprint(t, db, "users")

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.RemoveColumn(ctx, "users", "legacy_flag"))
	require.NoError(t, s.RenameColumn(ctx, "users", "name", "full_name"))
	assert.True(t, s.InTransaction())
	assert.Equal(t, []string{"id", "full_name"}, columnNames(t, s, "users"))
	require.NoError(t, s.Rollback(ctx))

	assert.Equal(t, []string{"id", "name", "legacy_flag"}, columnNames(t, s, "users"), "cache must not outlive the rollback")
	assert.Equal(t, before, fingerprint(t, db, "users"))

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.RemoveColumn(ctx, "users", "legacy_flag"))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, []string{"id", "name"}, columnNames(t, fresh(db), "users"))
}

func fresh(db database.DB) *Schema { return New(db) }

// faultyDB fails the statement whose prefix is failOn once after statements
// with that prefix have run.
type faultyDB struct {
	database.DB
	failOn string
	after  int
	seen   int
}

func (f *faultyDB) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := f.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, db: f}, nil
}

type faultyTx struct {
	database.Tx
	db *faultyDB
}

func (t *faultyTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if strings.HasPrefix(strings.TrimSpace(sql), t.db.failOn) {
		t.db.seen++
		if t.db.seen == t.db.after+1 {
			return 0, errs.New(errs.ErrKindQueryFailed, "injected failure")
		}
	}
	return t.Tx.Exec(ctx, sql, args...)
}

func TestRebuild_FailureLeavesTableUntouched(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		after  int
	}{
		{"away hop create", "CREATE TEMPORARY TABLE", 0},
		{"away hop rows", "INSERT INTO", 0},
		{"drop of original", "DROP TABLE", 0},
		{"back hop create", "CREATE TABLE", 0},
		{"back hop index", "CREATE INDEX", 1},
		{"back hop rows", "INSERT INTO", 1},
		{"drop of twin", "DROP TABLE", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := openDB(t)
			createUsers(t, New(db), db)
			before := fingerprint(t, db, "users")

			faulty := &faultyDB{DB: db, failOn: tt.failOn, after: tt.after}
			s := New(faulty, WithCache(schema.NewMemoryCache(0)))

			err := s.RemoveColumn(ctx, "users", "legacy_flag")
			require.Error(t, err)
			assert.True(t, errs.IsQueryFailed(err))
			assert.False(t, s.InTransaction())

			assert.Equal(t, before, fingerprint(t, db, "users"))
			assert.Equal(t, []string{"id", "name", "legacy_flag"}, columnNames(t, s, "users"))

			tables, err := fresh(db).Tables(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"users"}, tables, "no altered_ twin may remain")
		})
	}
}
