package sqlitex

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"codey/internal/coretypes"
	"codey/internal/tools"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO widgets (name) VALUES ('gizmo')")
	require.NoError(t, err)
	return path
}

func TestSchemaListsTables(t *testing.T) {
	path := newTestDB(t)
	reg := tools.New(nil)
	Register(reg)

	res := reg.Execute(context.Background(), "sqlite", "schema", map[string]any{"path": path}, coretypes.DecisionAllowOnce)
	require.True(t, res.Success)
	tables := res.Output["tables"].([]string)
	require.Contains(t, tables, "widgets")
}

func TestQueryReturnsRows(t *testing.T) {
	path := newTestDB(t)
	reg := tools.New(nil)
	Register(reg)

	res := reg.Execute(context.Background(), "sqlite", "query", map[string]any{
		"path": path,
		"sql":  "SELECT id, name FROM widgets",
	}, coretypes.DecisionAllowOnce)
	require.True(t, res.Success)
	columns := res.Output["columns"].([]string)
	require.Equal(t, []string{"id", "name"}, columns)

	rows := res.Output["rows"].([][]any)
	require.Len(t, rows, 1)
}

func TestQueryRequiresSQL(t *testing.T) {
	path := newTestDB(t)
	reg := tools.New(nil)
	Register(reg)

	res := reg.Execute(context.Background(), "sqlite", "query", map[string]any{"path": path}, coretypes.DecisionAllowOnce)
	require.False(t, res.Success)
}
