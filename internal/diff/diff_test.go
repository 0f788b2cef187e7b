package diff

import (
	"strings"
	"testing"

	"codey/internal/coretypes"
	"codey/internal/diffedit"
)

// TestComputeDiffOnAppliedEditBlockShowsChangedLines exercises the exact
// pipeline runCodingEdit drives: an EditBlock is applied to existing file
// content, and the diff between the two versions is what gets rendered as
// the edit's preview.
func TestComputeDiffOnAppliedEditBlockShowsChangedLines(t *testing.T) {
	existing := "def add(a, b):\n    return a + b\n"
	blocks := []coretypes.EditBlock{
		{StartLine: 2, EndLine: 2, OldContent: "    return a + b", NewContent: "    return a + b  # sum", Description: "annotate the return"},
	}
	updated := diffedit.ApplyEdits(existing, blocks)

	result := ComputeDiff("calc.py", "calc.py", existing, updated)
	if len(result.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(result.Hunks))
	}

	var sawRemoved, sawAdded bool
	for _, line := range result.Hunks[0].Lines {
		switch {
		case line.Type == LineRemoved && line.Content == "    return a + b":
			sawRemoved = true
		case line.Type == LineAdded && line.Content == "    return a + b  # sum":
			sawAdded = true
		}
	}
	if !sawRemoved || !sawAdded {
		t.Error("expected the diff to show the old line removed and the new line added")
	}
}

// TestComputeDiffOnMultipleEditBlocksSeparatesDistantHunks mirrors a
// multi-block edit (diffedit.ApplyEdits splices bottom-to-top): two
// far-apart line ranges should surface as two separate hunks rather than
// one hunk spanning the whole file.
func TestComputeDiffOnMultipleEditBlocksSeparatesDistantHunks(t *testing.T) {
	var lines []string
	for i := 1; i <= 20; i++ {
		lines = append(lines, "line"+string(rune('0'+i%10)))
	}
	existing := strings.Join(lines, "\n")

	blocks := []coretypes.EditBlock{
		{StartLine: 1, EndLine: 1, NewContent: "CHANGED_TOP", Description: "top edit"},
		{StartLine: 20, EndLine: 20, NewContent: "CHANGED_BOTTOM", Description: "bottom edit"},
	}
	updated := diffedit.ApplyEdits(existing, blocks)

	result := ComputeDiff("file.txt", "file.txt", existing, updated)
	if len(result.Hunks) != 2 {
		t.Errorf("expected 2 separate hunks for distant edits, got %d", len(result.Hunks))
	}
}

func TestComputeDiffFlagsNewFile(t *testing.T) {
	result := ComputeDiff("", "new.py", "", "print('hi')")
	if !result.IsNew {
		t.Error("expected diff to be marked as a new file")
	}
}

func TestComputeDiffFlagsDeletedFile(t *testing.T) {
	result := ComputeDiff("old.py", "", "print('hi')", "")
	if !result.IsDelete {
		t.Error("expected diff to be marked as a deleted file")
	}
}

func TestComputeDiffReportsNoHunksForIdenticalContent(t *testing.T) {
	content := "unchanged\ncontent\n"
	result := ComputeDiff("a.py", "a.py", content, content)
	if len(result.Hunks) != 0 {
		t.Errorf("expected 0 hunks for identical content, got %d", len(result.Hunks))
	}
}

// TestComputeDiffCachesIdenticalContentAcrossPaths exercises the Engine's
// content-hash cache: two edits producing the same before/after pair (a
// common case when the same generated boilerplate is edited identically
// across scaffolded files) hit the cache but still report the paths of the
// specific call.
func TestComputeDiffCachesIdenticalContentAcrossPaths(t *testing.T) {
	existing := "a = 1\nb = 2\n"
	updated := "a = 1\nb = 3\n"

	engine := NewEngine()
	first := engine.ComputeDiff("models.py", "models.py", existing, updated)
	second := engine.ComputeDiff("app.py", "app.py", existing, updated)

	if len(first.Hunks) != len(second.Hunks) {
		t.Errorf("cached diff should preserve hunk count: %d vs %d", len(first.Hunks), len(second.Hunks))
	}
	if second.OldPath != "app.py" || second.NewPath != "app.py" {
		t.Error("cached diff should still report the paths of its own call")
	}
}

func TestComputeDiffHunkCountsMatchLineTypes(t *testing.T) {
	result := ComputeDiff("old.txt", "new.txt", "line1\nline2\nline3", "line1\nNEW\nline3")
	if len(result.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(result.Hunks))
	}

	hunk := result.Hunks[0]
	var oldCount, newCount int
	for _, line := range hunk.Lines {
		if line.Type == LineRemoved || line.Type == LineContext {
			oldCount++
		}
		if line.Type == LineAdded || line.Type == LineContext {
			newCount++
		}
	}
	if hunk.OldCount != oldCount || hunk.NewCount != newCount {
		t.Errorf("hunk counts mismatch: got OldCount=%d NewCount=%d, want %d/%d", hunk.OldCount, hunk.NewCount, oldCount, newCount)
	}
}
