package mysql

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/database/dbtest"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

func newFixture(t *testing.T) (*Schema, *dbtest.DB) {
	t.Helper()
	db := dbtest.New(database.DriverMySQL)
	db.OnQuery("SHOW FIELDS", []string{"Field", "Type", "Null", "Key", "Default", "Extra"},
		[]any{"id", "int(10) unsigned", "NO", "PRI", nil, "auto_increment"},
		[]any{"name", "varchar(80)", "NO", "MUL", nil, ""},
		[]any{"status", "varchar(20)", "YES", "", "new", ""},
		[]any{"active", "tinyint(1)", "YES", "", "1", ""},
		[]any{"created", "datetime", "YES", "", "CURRENT_TIMESTAMP", "DEFAULT_GENERATED"},
		[]any{"bio", "text", "YES", "", nil, ""},
	)
	db.OnQuery("SHOW KEYS", []string{"Table", "Non_unique", "Key_name", "Seq_in_index", "Column_name"},
		[]any{"users", "0", "PRIMARY", int64(1), "id"},
		[]any{"users", "1", "index_users_on_name", int64(1), "name"},
		[]any{"users", "0", "by_status", int64(1), "status"},
		[]any{"users", "0", "by_status", int64(2), "name"},
	)
	return New(db, WithCache(schema.NewMemoryCache(0))), db
}

func TestReader_Columns(t *testing.T) {
	s, _ := newFixture(t)

	cols, err := s.Columns(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []schema.Column{
		{Name: "id", Type: schema.AutoincrementKey(), NotNull: true},
		{Name: "name", Type: schema.String(80), NotNull: true},
		{Name: "status", Type: schema.String(20), Default: "new"},
		{Name: "active", Type: schema.Boolean(), Default: true},
		{Name: "created", Type: schema.Datetime(), Default: schema.Expr("CURRENT_TIMESTAMP")},
		{Name: "bio", Type: schema.Text()},
	}, cols)
}

func TestReader_KeysAndIndexes(t *testing.T) {
	ctx := context.Background()
	s, _ := newFixture(t)

	pk, err := s.PrimaryKey(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Columns)

	idx, err := s.Indexes(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []schema.Index{
		{Table: "users", Name: "index_users_on_name", Columns: []string{"name"}},
		{Table: "users", Name: "by_status", Columns: []string{"status", "name"}, Unique: true},
	}, idx)
}

func TestReader_MissingTable(t *testing.T) {
	s := New(dbtest.New(database.DriverMySQL))
	_, err := s.Columns(context.Background(), "ghosts")
	assert.True(t, errs.IsNotFound(err))
	_, err = s.PrimaryKey(context.Background(), "ghosts")
	assert.True(t, errs.IsNotFound(err))
}

func TestSchema_Statements(t *testing.T) {
	keep := false
	longCols := []string{"a_rather_long_column_name", "another_rather_long_column_name"}

	tests := []struct {
		name string
		run  func(ctx context.Context, s *Schema) error
		want string
	}{
		{
			name: "add column",
			run: func(ctx context.Context, s *Schema) error {
				return s.AddColumn(ctx, "users", schema.Column{Name: "email", Type: schema.String(0), NotNull: true, Default: `a\b`})
			},
			want: "ALTER TABLE `users` ADD `email` varchar(255) NOT NULL DEFAULT 'a\\\\b'",
		},
		{
			name: "remove column",
			run:  func(ctx context.Context, s *Schema) error { return s.RemoveColumn(ctx, "users", "bio") },
			want: "ALTER TABLE `users` DROP `bio`",
		},
		{
			name: "change column keeps not null",
			run: func(ctx context.Context, s *Schema) error {
				return s.ChangeColumn(ctx, "users", "name", schema.Text(), schema.ChangeOptions{})
			},
			want: "ALTER TABLE `users` CHANGE `name` `name` text NOT NULL",
		},
		{
			name: "change column keeps default",
			run: func(ctx context.Context, s *Schema) error {
				return s.ChangeColumn(ctx, "users", "status", schema.String(40), schema.ChangeOptions{})
			},
			want: "ALTER TABLE `users` CHANGE `status` `status` varchar(40) DEFAULT 'new'",
		},
		{
			name: "change column clears default and sets null",
			run: func(ctx context.Context, s *Schema) error {
				return s.ChangeColumn(ctx, "users", "name", schema.String(40), schema.ChangeOptions{NotNull: &keep, SetDefault: true})
			},
			want: "ALTER TABLE `users` CHANGE `name` `name` varchar(40)",
		},
		{
			name: "change column to autoincrement",
			run: func(ctx context.Context, s *Schema) error {
				return s.ChangeColumn(ctx, "users", "name", schema.AutoincrementKey(), schema.ChangeOptions{})
			},
			want: "ALTER TABLE `users` DROP PRIMARY KEY, CHANGE `name` `name` int(10) UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY",
		},
		{
			name: "set boolean default",
			run:  func(ctx context.Context, s *Schema) error { return s.ChangeColumnDefault(ctx, "users", "active", false) },
			want: "ALTER TABLE `users` ALTER COLUMN `active` SET DEFAULT 0",
		},
		{
			name: "drop default",
			run:  func(ctx context.Context, s *Schema) error { return s.ChangeColumnDefault(ctx, "users", "status", nil) },
			want: "ALTER TABLE `users` ALTER COLUMN `status` DROP DEFAULT",
		},
		{
			name: "rename column",
			run:  func(ctx context.Context, s *Schema) error { return s.RenameColumn(ctx, "users", "status", "state") },
			want: "ALTER TABLE `users` CHANGE `status` `state` varchar(20) DEFAULT 'new'",
		},
		{
			name: "rename autoincrement column",
			run:  func(ctx context.Context, s *Schema) error { return s.RenameColumn(ctx, "users", "id", "uid") },
			want: "ALTER TABLE `users` CHANGE `id` `uid` int(10) unsigned NOT NULL AUTO_INCREMENT",
		},
		{
			name: "rename column with expression default",
			run:  func(ctx context.Context, s *Schema) error { return s.RenameColumn(ctx, "users", "created", "made") },
			want: "ALTER TABLE `users` CHANGE `created` `made` datetime DEFAULT CURRENT_TIMESTAMP",
		},
		{
			name: "replace primary key",
			run:  func(ctx context.Context, s *Schema) error { return s.AddPrimaryKey(ctx, "users", "name") },
			want: "ALTER TABLE `users` DROP PRIMARY KEY, ADD PRIMARY KEY (`name`)",
		},
		{
			name: "remove primary key",
			run:  func(ctx context.Context, s *Schema) error { return s.RemovePrimaryKey(ctx, "users") },
			want: "ALTER TABLE `users` DROP PRIMARY KEY",
		},
		{
			name: "add index with truncated name",
			run: func(ctx context.Context, s *Schema) error {
				return s.AddIndex(ctx, "users", longCols, schema.IndexOptions{})
			},
			want: "CREATE INDEX `" + schema.IndexName("users", longCols...)[:64] + "` ON `users` (`a_rather_long_column_name`, `another_rather_long_column_name`)",
		},
		{
			name: "remove index",
			run:  func(ctx context.Context, s *Schema) error { return s.RemoveIndex(ctx, "users", "by_status") },
			want: "DROP INDEX `by_status` ON `users`",
		},
		{
			name: "rename table",
			run:  func(ctx context.Context, s *Schema) error { return s.RenameTable(ctx, "users", "people") },
			want: "ALTER TABLE `users` RENAME `people`",
		},
		{
			name: "create table",
			run: func(ctx context.Context, s *Schema) error {
				return s.CreateTable(ctx, "notes", []schema.Column{
					{Name: "id", Type: schema.AutoincrementKey()},
					{Name: "body", Type: schema.Text()},
				})
			},
			want: "CREATE TABLE `notes` (\n  `id` int(10) UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,\n  `body` text\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db := newFixture(t)
			require.NoError(t, tt.run(context.Background(), s))
			assert.Equal(t, []string{tt.want}, db.Statements())
			for _, st := range db.Recorded() {
				assert.False(t, st.InTx, st.SQL)
			}
			assert.Zero(t, db.Commits)
		})
	}
}

func TestSchema_RejectedChanges(t *testing.T) {
	ctx := context.Background()
	s, db := newFixture(t)

	assert.True(t, errs.IsInvalidInput(s.ChangeColumnDefault(ctx, "users", "id", 1)))
	assert.True(t, errs.IsNotFound(s.ChangeColumnDefault(ctx, "users", "missing", 1)))
	assert.True(t, errs.IsNotFound(s.RenameColumn(ctx, "users", "missing", "x")))
	assert.True(t, errs.IsInvalidInput(s.AddPrimaryKey(ctx, "users")))
	assert.NoError(t, s.RenameColumn(ctx, "users", "name", "name"))

	assert.Empty(t, db.Statements())
}

func TestSchema_StatementFailure(t *testing.T) {
	s, db := newFixture(t)
	db.FailExec("DROP `bio`", errs.New(errs.ErrKindPermissionDenied, "command denied"))

	err := s.RemoveColumn(context.Background(), "users", "bio")
	assert.True(t, errs.IsPermissionDenied(err))
	assert.True(t, strings.Contains(err.Error(), "remove column bio"))
}

func TestParseType(t *testing.T) {
	tests := map[string]schema.Type{
		"int(11)":          schema.Integer(),
		"int":              schema.Integer(),
		"int(4)":           {Kind: schema.KindInteger, Limit: 4},
		"int(10) unsigned": schema.Native("int(10) unsigned"),
		"tinyint(1)":       schema.Boolean(),
		"tinyint(4)":       schema.Native("tinyint(4)"),
		"varchar(255)":     schema.String(255),
		"decimal(10,2)":    schema.Decimal(10, 2),
		"mediumtext":       {Kind: schema.KindMediumText},
		"blob":             schema.Binary(),
		"longblob":         schema.Native("longblob"),
		"DATETIME":         schema.Datetime(),
	}
	for decl, want := range tests {
		assert.Equal(t, want, parseType(decl), decl)
	}
}

func TestDialect(t *testing.T) {
	d := NewDialect()
	assert.Equal(t, "`we``ird`", d.QuoteIdent("we`ird"))

	for typ, want := range map[schema.Kind]string{
		schema.KindInteger:    "int(11)",
		schema.KindBoolean:    "tinyint(1)",
		schema.KindLongText:   "longtext",
		schema.KindTimestamp:  "datetime",
		schema.KindBinary:     "blob",
		schema.KindMediumText: "mediumtext",
	} {
		got, err := d.TypeSQL(schema.Type{Kind: typ})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
