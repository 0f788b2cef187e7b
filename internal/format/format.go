// Package format implements the Response Formatter: a set of stateless pure
// functions, one per result variant, following the convention of building a
// strings.Builder response section by section rather than a single template
// string.
package format

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"codey/internal/coretypes"
	"codey/internal/diff"
)

// ToolResult formats one Tool Executor result: a summary tailored to the
// (tool, action) pair when one is known, falling back to a generic
// key/value dump for anything without a dedicated summary.
func ToolResult(result coretypes.ToolResult) string {
	if !result.Success {
		return fmt.Sprintf("%s.%s: failed (%s)\n", result.Tool, result.Action, result.Error)
	}

	if summarize, ok := toolResultSummaries[result.Tool+"."+result.Action]; ok {
		return summarize(result.Output)
	}
	return genericToolResult(result)
}

// toolResultSummaries holds the (tool, action) pairs the Response Formatter
// knows a dedicated summary for; anything else falls back to
// genericToolResult.
var toolResultSummaries = map[string]func(map[string]any) string{
	"git.status":    summarizeGitStatus,
	"git.commit":    summarizeGitCommit,
	"git.push":      summarizeGitPush,
	"file.write":    summarizeFileWrite,
	"file.read":     summarizeFileRead,
	"file.list":     summarizeFileList,
	"file.delete":   summarizeFileDelete,
	"shell.run":     summarizeShellRun,
	"shell.mkdir":   summarizeShellMkdir,
	"sqlite.query":  summarizeSQLiteQuery,
	"sqlite.schema": summarizeSQLiteSchema,
}

func summarizeGitStatus(out map[string]any) string {
	staged := stringSliceOut(out["staged"])
	modified := stringSliceOut(out["modified"])
	untracked := stringSliceOut(out["untracked"])
	if len(staged) == 0 && len(modified) == 0 && len(untracked) == 0 {
		return "git.status: ok\nWorking directory is clean\n"
	}

	var b strings.Builder
	b.WriteString("git.status: ok\n")
	writeFileGroup(&b, "staged", staged)
	writeFileGroup(&b, "modified", modified)
	writeFileGroup(&b, "untracked", untracked)
	return b.String()
}

func writeFileGroup(b *strings.Builder, label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(paths, ", "))
}

func summarizeGitCommit(out map[string]any) string {
	return fmt.Sprintf("git.commit: ok\nCommitted %v as %v\n", out["message"], out["sha"])
}

func summarizeGitPush(out map[string]any) string {
	return fmt.Sprintf("git.push: ok\nPushed to %v/%v\n", out["remote"], out["branch"])
}

func summarizeFileWrite(out map[string]any) string {
	s := fmt.Sprintf("file.write: ok\nWrote %v bytes to %v\n", out["bytes"], out["path"])
	if backup, ok := out["backupPath"]; ok {
		s += fmt.Sprintf("Backed up previous content to %v\n", backup)
	}
	return s
}

func summarizeFileRead(out map[string]any) string {
	return fmt.Sprintf("file.read: ok\nRead %v bytes from %v\n", out["bytes"], out["path"])
}

func summarizeFileList(out map[string]any) string {
	entries := stringSliceOut(out["entries"])
	if len(entries) == 0 {
		return fmt.Sprintf("file.list: ok\n%v is empty\n", out["path"])
	}
	return fmt.Sprintf("file.list: ok\n%v:\n  %s\n", out["path"], strings.Join(entries, "\n  "))
}

func summarizeFileDelete(out map[string]any) string {
	return fmt.Sprintf("file.delete: ok\nDeleted %v (backup at %v)\n", out["path"], out["backupPath"])
}

func summarizeShellRun(out map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "shell.run: ok\nexit code %v\n", out["exitCode"])
	if stdout, _ := out["stdout"].(string); strings.TrimSpace(stdout) != "" {
		fmt.Fprintf(&b, "%s\n", strings.TrimRight(stdout, "\n"))
	}
	if out["truncated"] == true {
		b.WriteString("(output truncated)\n")
	}
	return b.String()
}

func summarizeShellMkdir(out map[string]any) string {
	created := stringSliceOut(out["created"])
	return fmt.Sprintf("shell.mkdir: ok\nCreated %s\n", strings.Join(created, ", "))
}

func summarizeSQLiteQuery(out map[string]any) string {
	rows, _ := out["rows"].([][]any)
	return fmt.Sprintf("sqlite.query: ok\n%d row(s), columns: %v\n", len(rows), out["columns"])
}

func summarizeSQLiteSchema(out map[string]any) string {
	tables := stringSliceOut(out["tables"])
	return fmt.Sprintf("sqlite.schema: ok\n%d table(s): %s\n", len(tables), strings.Join(tables, ", "))
}

func stringSliceOut(v any) []string {
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

// genericToolResult is the fallback for any (tool, action) pair without a
// dedicated summary: a sorted key/value dump of the output map.
func genericToolResult(result coretypes.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: ok\n", result.Tool, result.Action)

	keys := make([]string, 0, len(result.Output))
	for k := range result.Output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, result.Output[k])
	}
	return b.String()
}

var extToLanguage = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".css":  "css",
	".html": "html",
	".json": "json",
	".md":   "markdown",
	".go":   "go",
	".sh":   "bash",
	".sql":  "sql",
}

// LanguageForPath maps a file extension to the fenced-code-block language
// tag the Response Formatter quotes content with.
func LanguageForPath(path string) string {
	if lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return ""
}

// CodeBlock quotes content in a fenced block tagged with language.
func CodeBlock(content, language string) string {
	return fmt.Sprintf("```%s\n%s\n```", language, strings.TrimRight(content, "\n"))
}

// CodeResult formats a Coder specialist's output: one fenced block per
// file in full-file mode, or a summary of edit blocks in diff mode.
func CodeResult(result coretypes.CodeResult) string {
	var b strings.Builder
	if !result.Success {
		fmt.Fprintf(&b, "coding task failed: %s\n", result.Error)
		return b.String()
	}

	if len(result.Edits) > 0 {
		fmt.Fprintf(&b, "%d edit(s):\n", len(result.Edits))
		for _, e := range result.Edits {
			fmt.Fprintf(&b, "  - lines %d-%d: %s\n", e.StartLine, e.EndLine, e.Description)
		}
		if preview := result.Metadata["diffPreview"]; preview != "" {
			b.WriteString(preview)
		}
	} else if len(result.Files) > 0 {
		paths := make([]string, 0, len(result.Files))
		for p := range result.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(&b, "%s\n%s\n\n", p, CodeBlock(result.Files[p], LanguageForPath(p)))
		}
	}

	if result.NeedsAlgorithmSpecialist {
		b.WriteString("this task needs the algorithm specialist\n")
	}
	return b.String()
}

// Complexity formats a ComplexityAnalysis.
func Complexity(a coretypes.ComplexityAnalysis) string {
	return fmt.Sprintf("time: %s, space: %s", a.Time, a.Space)
}

// AlgorithmResult formats an Algorithm specialist's output: the underlying
// CodeResult plus its complexity analysis and rationale.
func AlgorithmResult(result coretypes.AlgorithmResult) string {
	var b strings.Builder
	b.WriteString(CodeResult(result.CodeResult))
	if result.Success {
		fmt.Fprintf(&b, "complexity: %s\n", Complexity(result.Complexity))
		if result.Rationale != "" {
			fmt.Fprintf(&b, "rationale: %s\n", result.Rationale)
		}
	}
	return b.String()
}

// UnifiedDiff renders a unified diff between oldContent and newContent using
// the kept sergi/go-diff-backed engine (internal/diff), for the Response
// Formatter's "rendering unified diffs" responsibility and for previewing a
// Diff Editor edit before it is applied.
func UnifiedDiff(oldPath, newPath, oldContent, newContent string) string {
	fileDiff := diff.ComputeDiff(oldPath, newPath, oldContent, newContent)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", fileDiff.OldPath, fileDiff.NewPath)
	for _, hunk := range fileDiff.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount)
		for _, line := range hunk.Lines {
			b.WriteString(prefixFor(line.Type))
			b.WriteString(line.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func prefixFor(t diff.LineType) string {
	switch t {
	case diff.LineAdded:
		return "+"
	case diff.LineRemoved:
		return "-"
	default:
		return " "
	}
}

// Candidate is one intent guess offered by a clarification prompt.
type Candidate struct {
	Intent     coretypes.Intent
	Confidence float64
}

// Clarification renders an Unknown/low-confidence clarification prompt: a
// short question listing the top two candidate intents.
func Clarification(utterance string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I'm not sure what you want me to do with: %q\n", utterance)

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if len(sorted) > 2 {
		sorted = sorted[:2]
	}

	if len(sorted) == 0 {
		b.WriteString("Could you rephrase or be more specific?\n")
		return b.String()
	}
	b.WriteString("Did you mean:\n")
	for _, c := range sorted {
		fmt.Fprintf(&b, "  - %s (%.0f%% confidence)\n", c.Intent, c.Confidence*100)
	}
	return b.String()
}
