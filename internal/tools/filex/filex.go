// Package filex implements the file.* tool actions: file.read, file.write,
// file.list, file.delete. The read/write shape follows the pattern used
// elsewhere in this codebase for file operations, generalized to add the
// backup-before-destructive-edit and atomic .part-suffixed write discipline
// this module requires on top of that simpler shape.
package filex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"codey/internal/errs"
	"codey/internal/tools"
)

// Register installs file.read, file.write, file.list, file.delete into reg.
// workspaceDir is the default root for relative paths: paths are accepted
// anywhere the running user can read/write; the workspace root only
// defaults relative paths.
func Register(reg *tools.Registry, workspaceDir string) {
	reg.Register("file", tools.Action{Name: "read", Effect: "read", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return readFile(workspaceDir, params)
	}})
	reg.Register("file", tools.Action{Name: "write", Effect: "write", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return writeFile(workspaceDir, params)
	}})
	reg.Register("file", tools.Action{Name: "list", Effect: "read", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return listDir(workspaceDir, params)
	}})
	reg.Register("file", tools.Action{Name: "delete", Effect: "destructive", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return deleteFile(workspaceDir, params)
	}})
}

func resolve(workspaceDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspaceDir, path)
}

func readFile(workspaceDir string, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "path is required")
	}
	full := resolve(workspaceDir, path)

	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindNotFound, "%s", full)
		}
		return nil, fmt.Errorf("file.read: %w", err)
	}
	return map[string]any{
		"path":    path,
		"content": string(content),
		"bytes":   len(content),
	}, nil
}

// writeFile performs a streaming-safe write: content lands in
// "<path>.part" first, then is atomically renamed onto path. This
// satisfies the "no orphan .part file after success" invariant.
func writeFile(workspaceDir string, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "path is required")
	}
	content, _ := params["content"].(string)

	overwrite := true
	if v, ok := params["overwrite"].(bool); ok {
		overwrite = v
	}

	full := resolve(workspaceDir, path)

	var backupPath string
	if _, err := os.Stat(full); err == nil {
		if !overwrite {
			return nil, errs.Wrap(errs.KindValidationFailed, "%s already exists and overwrite=false", full)
		}
		backupPath, err = backup(full)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}

	partPath := full + ".part"
	if err := os.WriteFile(partPath, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	if err := os.Rename(partPath, full); err != nil {
		return nil, fmt.Errorf("file.write: rename %s: %w", partPath, err)
	}

	out := map[string]any{
		"path":  path,
		"bytes": len(content),
	}
	if backupPath != "" {
		out["backupPath"] = backupPath
	}
	return out, nil
}

// backup copies full into a .backups directory beside it, as
// <name>.<UTC timestamp>.bak, before a destructive edit. A file in a
// subdirectory gets its backup in that subdirectory's own .backups, not in
// a single .backups directory at the workspace root.
func backup(full string) (string, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	dir := filepath.Join(filepath.Dir(full), ".backups")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s.bak", filepath.Base(full), stamp))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	return backupPath, nil
}

func listDir(workspaceDir string, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		path = "."
	}
	full := resolve(workspaceDir, path)

	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindNotFound, "%s", full)
		}
		return nil, fmt.Errorf("file.list: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return map[string]any{
		"path":    path,
		"entries": names,
	}, nil
}

func deleteFile(workspaceDir string, params map[string]any) (map[string]any, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "path is required")
	}
	full := resolve(workspaceDir, path)

	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindNotFound, "%s", full)
		}
		return nil, fmt.Errorf("file.delete: %w", err)
	}

	backupPath, err := backup(full)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(full); err != nil {
		return nil, fmt.Errorf("file.delete: %w", err)
	}

	return map[string]any{
		"path":       path,
		"backupPath": backupPath,
	}, nil
}
