// Package sqlitex implements the sqlite.* tool actions: sqlite.schema and
// sqlite.query, against modernc.org/sqlite — the pure-Go, cgo-free driver
// used for embedded storage. This package generalizes that dependency from
// internal state storage into a general-purpose read/inspect tool exposed
// to the orchestration core.
package sqlitex

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"codey/internal/errs"
	"codey/internal/tools"
)

// Register installs sqlite.schema and sqlite.query into reg.
func Register(reg *tools.Registry) {
	reg.Register("sqlite", tools.Action{Name: "schema", Effect: "read", Run: schema})
	reg.Register("sqlite", tools.Action{Name: "query", Effect: "read", Run: query})
}

func open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: open %s: %v", path, err)
	}
	return db, nil
}

func schema(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: %v", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: scan: %v", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: %v", err)
	}

	return map[string]any{"tables": tables}, nil
}

func query(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	sqlText, _ := params["sql"].(string)
	if sqlText == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "sql is required")
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: columns: %v", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: scan: %v", err)
		}
		resultRows = append(resultRows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindSubprocessFailed, "sqlite: %v", err)
	}

	return map[string]any{
		"columns": columns,
		"rows":    resultRows,
	}, nil
}
