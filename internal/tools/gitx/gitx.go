// Package gitx implements the git.* tool actions: git.status, git.commit,
// git.push. It shells out to the system git binary rather than a Go git
// library, following the same os/exec subprocess pattern used for
// shell.run — git porcelain output is the simplest stable interface, and
// there is no vendored git library pulled in for this to build on instead.
package gitx

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"codey/internal/errs"
	"codey/internal/tools"
)

const gitTimeout = 30 * time.Second

// Register installs git.status, git.commit, git.push into reg.
func Register(reg *tools.Registry, workspaceDir string) {
	reg.Register("git", tools.Action{Name: "status", Effect: "read", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return status(ctx, workspaceDir)
	}})
	reg.Register("git", tools.Action{Name: "commit", Effect: "write", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return commit(ctx, workspaceDir, params)
	}})
	reg.Register("git", tools.Action{Name: "push", Effect: "destructive", Run: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return push(ctx, workspaceDir, params)
	}})
}

func run(ctx context.Context, dir string, args ...string) (string, string, error) {
	execCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() != nil {
		return stdout.String(), stderr.String(), errs.Wrap(errs.KindTimeout, "git %s timed out", strings.Join(args, " "))
	}
	if err != nil {
		return stdout.String(), stderr.String(), errs.Wrap(errs.KindSubprocessFailed, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), stderr.String(), nil
}

func status(ctx context.Context, dir string) (map[string]any, error) {
	out, _, err := run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return nil, err
	}

	var staged, modified, untracked []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		indexState, workState, path := line[0], line[1], strings.TrimSpace(line[3:])
		switch {
		case indexState == '?' && workState == '?':
			untracked = append(untracked, path)
		case indexState != ' ' && indexState != '?':
			staged = append(staged, path)
		case workState != ' ' && workState != '?':
			modified = append(modified, path)
		}
	}

	return map[string]any{
		"staged":    orEmpty(staged),
		"modified":  orEmpty(modified),
		"untracked": orEmpty(untracked),
	}, nil
}

func commit(ctx context.Context, dir string, params map[string]any) (map[string]any, error) {
	message, _ := params["message"].(string)
	if message == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "message is required")
	}

	files := stringSlice(params["files"])
	if len(files) > 0 {
		addArgs := append([]string{"add"}, files...)
		if _, _, err := run(ctx, dir, addArgs...); err != nil {
			return nil, err
		}
	} else {
		if _, _, err := run(ctx, dir, "add", "-A"); err != nil {
			return nil, err
		}
	}

	if _, _, err := run(ctx, dir, "commit", "-m", message); err != nil {
		return nil, err
	}

	sha, _, err := run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sha":     strings.TrimSpace(sha),
		"message": message,
	}, nil
}

func push(ctx context.Context, dir string, params map[string]any) (map[string]any, error) {
	remote, _ := params["remote"].(string)
	if remote == "" {
		remote = "origin"
	}
	branch, _ := params["branch"].(string)
	if branch == "" {
		return nil, errs.Wrap(errs.KindValidationFailed, "branch is required")
	}

	if _, _, err := run(ctx, dir, "push", remote, branch); err != nil {
		return nil, err
	}

	return map[string]any{
		"remote": remote,
		"branch": branch,
	}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
