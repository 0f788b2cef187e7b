package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"codey/internal/coretypes"
)

func TestToolResultFailureIncludesError(t *testing.T) {
	result := coretypes.ToolResult{Tool: "shell", Action: "run", Success: false, Error: "boom"}
	out := ToolResult(result)
	assert.Contains(t, out, "shell.run: failed (boom)")
}

func TestToolResultFileReadUsesDedicatedSummary(t *testing.T) {
	result := coretypes.ToolResult{
		Tool: "file", Action: "read", Success: true,
		Output: map[string]any{"bytes": 10, "path": "a.txt"},
	}
	out := ToolResult(result)
	assert.Contains(t, out, "file.read: ok")
	assert.Contains(t, out, "Read 10 bytes from a.txt")
}

func TestToolResultCleanGitStatusReportsClean(t *testing.T) {
	result := coretypes.ToolResult{
		Tool: "git", Action: "status", Success: true,
		Output: map[string]any{"staged": []string{}, "modified": []string{}, "untracked": []string{}},
	}
	out := ToolResult(result)
	assert.Contains(t, out, "Working directory is clean")
}

func TestToolResultDirtyGitStatusListsFiles(t *testing.T) {
	result := coretypes.ToolResult{
		Tool: "git", Action: "status", Success: true,
		Output: map[string]any{"staged": []string{"a.py"}, "modified": []string{}, "untracked": []string{"b.py"}},
	}
	out := ToolResult(result)
	assert.NotContains(t, out, "Working directory is clean")
	assert.Contains(t, out, "a.py")
	assert.Contains(t, out, "b.py")
}

func TestToolResultFallsBackToGenericSortedDumpForUnknownAction(t *testing.T) {
	result := coretypes.ToolResult{
		Tool: "file", Action: "stat", Success: true,
		Output: map[string]any{"bytes": 10, "path": "a.txt"},
	}
	out := ToolResult(result)
	assert.Contains(t, out, "file.stat: ok")
	assert.True(t, strings.Index(out, "bytes") < strings.Index(out, "path"))
}

func TestLanguageForPathMapsExtensions(t *testing.T) {
	assert.Equal(t, "python", LanguageForPath("foo/bar.py"))
	assert.Equal(t, "javascript", LanguageForPath("app.JS"))
	assert.Equal(t, "", LanguageForPath("noext"))
}

func TestCodeBlockWrapsInFence(t *testing.T) {
	out := CodeBlock("print(1)\n", "python")
	assert.Equal(t, "```python\nprint(1)\n```", out)
}

func TestCodeResultRendersFilesSorted(t *testing.T) {
	result := coretypes.CodeResult{
		Success: true,
		Files: map[string]string{
			"b.py": "pass",
			"a.py": "pass",
		},
	}
	out := CodeResult(result)
	assert.True(t, strings.Index(out, "a.py") < strings.Index(out, "b.py"))
}

func TestCodeResultFailureShortCircuits(t *testing.T) {
	out := CodeResult(coretypes.CodeResult{Success: false, Error: "compile error"})
	assert.Contains(t, out, "compile error")
}

func TestCodeResultEditModeRendersEditsAndPreviewInsteadOfFullFile(t *testing.T) {
	result := coretypes.CodeResult{
		Success: true,
		Files:   map[string]string{"a.py": "new full content"},
		Edits:   []coretypes.EditBlock{{StartLine: 1, EndLine: 1, Description: "rename var"}},
		Metadata: map[string]string{
			"diffPreview": "--- a.py\n+++ a.py\n@@ -1,1 +1,1 @@\n-old\n+new\n",
		},
	}
	out := CodeResult(result)
	assert.Contains(t, out, "1 edit(s):")
	assert.Contains(t, out, "rename var")
	assert.Contains(t, out, "--- a.py")
	assert.NotContains(t, out, "new full content")
}

func TestCodeResultFlagsAlgorithmEscalation(t *testing.T) {
	out := CodeResult(coretypes.CodeResult{Success: true, NeedsAlgorithmSpecialist: true})
	assert.Contains(t, out, "algorithm specialist")
}

func TestAlgorithmResultIncludesComplexityAndRationale(t *testing.T) {
	result := coretypes.AlgorithmResult{
		CodeResult: coretypes.CodeResult{Success: true, Files: map[string]string{"sol.py": "pass"}},
		Complexity: coretypes.ComplexityAnalysis{Time: "O(n)", Space: "O(1)"},
		Rationale:  "single pass",
	}
	out := AlgorithmResult(result)
	assert.Contains(t, out, "O(n)")
	assert.Contains(t, out, "single pass")
}

func TestUnifiedDiffRendersAddedAndRemovedLines(t *testing.T) {
	out := UnifiedDiff("a.txt", "a.txt", "line1\nline2\n", "line1\nline2 changed\n")
	assert.Contains(t, out, "--- a.txt")
	assert.Contains(t, out, "+++ a.txt")
}

func TestClarificationListsTopTwoCandidatesByConfidence(t *testing.T) {
	out := Clarification("do the thing", []Candidate{
		{Intent: coretypes.IntentCodingTask, Confidence: 0.4},
		{Intent: coretypes.IntentToolCall, Confidence: 0.6},
		{Intent: coretypes.IntentAlgorithmTask, Confidence: 0.9},
	})
	assert.Contains(t, out, string(coretypes.IntentAlgorithmTask))
	assert.Contains(t, out, string(coretypes.IntentToolCall))
	assert.NotContains(t, out, string(coretypes.IntentCodingTask))
}

func TestClarificationWithNoCandidatesAsksToRephrase(t *testing.T) {
	out := Clarification("???", nil)
	assert.Contains(t, out, "rephrase")
}
