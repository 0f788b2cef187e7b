// Package shellx implements the shell.* tool actions: shell.run and
// shell.mkdir. The subprocess plumbing (timeout context, stdout/stderr
// capture, truncation) follows the same pattern used for the other tool
// packages, generalized from an ad hoc string-result tool into a
// (tool, action) handler returning the structured {exitCode, stdout,
// stderr} shape shell.run needs.
package shellx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"codey/internal/errs"
	"codey/internal/tools"
)

const (
	defaultTimeout   = 60 * time.Second
	maxOutputBytes   = 50_000
)

// forbiddenPatterns implements forbidden pattern set: recursive
// deletes at root, fork bombs, writes to device files. Matches are fatal —
// Forbidden, no prompt.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/(\s|$)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)[a-z0-9]*\b`),
}

// Register installs shell.run and shell.mkdir into reg.
func Register(reg *tools.Registry, workspaceDir string, allowShell bool) {
	reg.Register("shell", tools.Action{
		Name:   "run",
		Effect: "write",
		Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return runShell(ctx, workspaceDir, allowShell, params)
		},
	})
	reg.Register("shell", tools.Action{
		Name:   "mkdir",
		Effect: "write",
		Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return mkdir(ctx, workspaceDir, params)
		},
	})
}

func runShell(ctx context.Context, workspaceDir string, allowShell bool, params map[string]any) (map[string]any, error) {
	if !allowShell {
		return nil, errs.Wrap(errs.KindForbidden, "shell execution is disabled by configuration")
	}

	command, _ := params["command"].(string)
	if command == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "command is required")
	}

	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(command) {
			return nil, errs.Wrap(errs.KindForbidden, "command matches a forbidden pattern")
		}
	}

	cwd := workspaceDir
	if v, ok := params["cwd"].(string); ok && v != "" {
		cwd = v
	}

	timeout := defaultTimeout
	if v, ok := params["timeout"].(int); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out, outTruncated := truncate(stdout.String())
	errOut, errTruncated := truncate(stderr.String())
	exitCode := 0
	if runErr != nil {
		if execCtx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, "command timed out after %s", timeout)
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errs.Wrap(errs.KindSubprocessFailed, "%v", runErr)
		}
	}

	result := map[string]any{
		"exitCode": exitCode,
		"stdout":   out,
		"stderr":   errOut,
	}
	if outTruncated || errTruncated {
		result["truncated"] = true
	}
	if exitCode != 0 {
		return result, errs.Wrap(errs.KindSubprocessFailed, "command exited with status %d", exitCode)
	}
	return result, nil
}

func mkdir(_ context.Context, workspaceDir string, params map[string]any) (map[string]any, error) {
	rawPaths, _ := params["paths"].([]string)
	if len(rawPaths) == 0 {
		if anyPaths, ok := params["paths"].([]any); ok {
			for _, p := range anyPaths {
				if s, ok := p.(string); ok {
					rawPaths = append(rawPaths, s)
				}
			}
		}
	}
	if len(rawPaths) == 0 {
		return nil, errs.Wrap(errs.KindValidationFailed, "paths is required")
	}

	parents := true
	if v, ok := params["parents"].(bool); ok {
		parents = v
	}

	created := make([]string, 0, len(rawPaths))
	for _, p := range rawPaths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(workspaceDir, full)
		}
		var err error
		if parents {
			err = os.MkdirAll(full, 0755)
		} else {
			err = os.Mkdir(full, 0755)
		}
		if err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("shell.mkdir: %w", err)
		}
		created = append(created, full)
	}
	return map[string]any{"created": created}, nil
}

func truncate(s string) (string, bool) {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n...[truncated]", true
	}
	return s, false
}
