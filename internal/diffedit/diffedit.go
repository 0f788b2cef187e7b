// Package diffedit implements the Diff Editor: building edit prompts,
// parsing the model's numbered EDIT blocks, validating them against the
// current file content, and applying them bottom-to-top so earlier edits
// see unshifted line numbers. It does not use internal/diff: unified-diff
// previews of an edit are rendered separately by the Response Formatter,
// and EstimateSavings works from character counts alone.
package diffedit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"codey/internal/coretypes"
	"codey/internal/errs"
)

// BuildEditPrompt implements buildEditPrompt(path, existing,
// instructions).
func BuildEditPrompt(path, existing, instructions string) string {
	numbered := numberLines(existing)
	return fmt.Sprintf(`You are editing %s. Reply with one or more numbered EDIT blocks, each in this exact form:

EDIT 1:
Lines: <start>-<end>
Old: <verbatim current content of those lines>
New: <replacement content>
Description: <one-line rationale>

Current file (line-numbered):
%s

Instructions: %s`, path, numbered, instructions)
}

func numberLines(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%d: %s\n", i+1, line)
	}
	return b.String()
}

// RenderEditBlocks is the inverse of ParseEditBlocks: it emits the same
// numbered EDIT-block text format the model is prompted to produce, so
// ParseEditBlocks(RenderEditBlocks(blocks)) reproduces blocks ('s
// round-trip law).
func RenderEditBlocks(blocks []coretypes.EditBlock) string {
	var b strings.Builder
	for i, block := range blocks {
		fmt.Fprintf(&b, "EDIT %d:\nLines: %d-%d\nOld: %s\nNew: %s\nDescription: %s\n\n",
			i+1, block.StartLine, block.EndLine, block.OldContent, block.NewContent, block.Description)
	}
	return b.String()
}

var editBlockPattern = regexp.MustCompile(`EDIT\s+\d+:`)
var linesFieldPattern = regexp.MustCompile(`(?m)^\s*Lines:\s*(\d+)\s*-\s*(\d+)\s*$`)
var oldFieldPattern = regexp.MustCompile(`(?ms)^\s*Old:\s*(.*?)(?:\n\s*New:|\z)`)
var newFieldPattern = regexp.MustCompile(`(?ms)^\s*New:\s*(.*?)(?:\n\s*Description:|\z)`)
var descFieldPattern = regexp.MustCompile(`(?m)^\s*Description:\s*(.*)$`)

// ParseEditBlocks implements parseEditBlocks(modelOutput) →
// [EditBlock]. It tolerates ordering and whitespace; blocks lacking
// required fields are discarded rather than failing the whole parse.
func ParseEditBlocks(modelOutput string) []coretypes.EditBlock {
	var blocks []coretypes.EditBlock

	headers := editBlockPattern.FindAllStringIndex(modelOutput, -1)
	for i, h := range headers {
		end := len(modelOutput)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := modelOutput[h[1]:end]

		linesMatch := linesFieldPattern.FindStringSubmatch(body)
		if linesMatch == nil {
			continue
		}
		start, err1 := strconv.Atoi(linesMatch[1])
		end, err2 := strconv.Atoi(linesMatch[2])
		if err1 != nil || err2 != nil {
			continue
		}

		newMatch := newFieldPattern.FindStringSubmatch(body)
		if newMatch == nil {
			continue
		}

		var oldContent string
		if oldMatch := oldFieldPattern.FindStringSubmatch(body); oldMatch != nil {
			oldContent = strings.TrimSpace(oldMatch[1])
		}

		var description string
		if descMatch := descFieldPattern.FindStringSubmatch(body); descMatch != nil {
			description = strings.TrimSpace(descMatch[1])
		}

		blocks = append(blocks, coretypes.EditBlock{
			StartLine:   start,
			EndLine:     end,
			OldContent:  oldContent,
			NewContent:  strings.TrimSpace(newMatch[1]),
			Description: description,
		})
	}

	return blocks
}

// ValidateEdits implements validateEdits(existing, blocks) →
// [error]: range bounds, no pairwise overlap, and oldContent equality
// against the file's current content.
func ValidateEdits(existing string, blocks []coretypes.EditBlock) []error {
	lines := strings.Split(existing, "\n")
	lineCount := len(lines)
	if existing == "" {
		lineCount = 0
	}

	var errList []error
	for _, b := range blocks {
		if b.StartLine < 1 || b.EndLine < b.StartLine || b.EndLine > lineCount {
			errList = append(errList, errs.Wrap(errs.KindValidationFailed, "block %q has out-of-bounds range %d-%d (file has %d lines)", b.Description, b.StartLine, b.EndLine, lineCount))
			continue
		}
		if b.OldContent != "" {
			actual := strings.Join(lines[b.StartLine-1:b.EndLine], "\n")
			if actual != b.OldContent {
				errList = append(errList, errs.Wrap(errs.KindValidationFailed, "block %q old content does not match lines %d-%d", b.Description, b.StartLine, b.EndLine))
			}
		}
	}

	for i := 0; i < len(blocks); i++ {
		for j := i + 1; j < len(blocks); j++ {
			if blocks[i].StartLine > blocks[j].EndLine || blocks[j].StartLine > blocks[i].EndLine {
				continue
			}
			errList = append(errList, errs.Wrap(errs.KindValidationFailed, "blocks %q and %q overlap", blocks[i].Description, blocks[j].Description))
		}
	}

	return errList
}

// ApplyEdits implements applyEdits(existing, blocks) → text:
// sorts blocks by startLine descending and splices from bottom to top so
// earlier edits see unshifted line numbers. Callers must have already run
// ValidateEdits and confirmed no errors.
func ApplyEdits(existing string, blocks []coretypes.EditBlock) string {
	lines := strings.Split(existing, "\n")

	sorted := make([]coretypes.EditBlock, len(blocks))
	copy(sorted, blocks)
	sortDescendingByStart(sorted)

	for _, b := range sorted {
		replacement := strings.Split(b.NewContent, "\n")
		before := lines[:b.StartLine-1]
		after := lines[b.EndLine:]

		merged := make([]string, 0, len(before)+len(replacement)+len(after))
		merged = append(merged, before...)
		merged = append(merged, replacement...)
		merged = append(merged, after...)
		lines = merged
	}

	return strings.Join(lines, "\n")
}

func sortDescendingByStart(blocks []coretypes.EditBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j-1].StartLine < blocks[j].StartLine; j-- {
			blocks[j-1], blocks[j] = blocks[j], blocks[j-1]
		}
	}
}

// SavingsEstimate is the informational output of EstimateSavings.
type SavingsEstimate struct {
	FullTokens  int
	DiffTokens  int
	SavingsPct  float64
}

// charsPerToken is the 4-characters-per-token estimation heuristic.
const charsPerToken = 4

// EstimateSavings implements estimateSavings(existing, blocks).
func EstimateSavings(existing string, blocks []coretypes.EditBlock) SavingsEstimate {
	fullTokens := estimateTokens(existing)

	diffChars := 0
	for _, b := range blocks {
		diffChars += len(b.OldContent) + len(b.NewContent) + len(b.Description)
	}
	diffTokens := diffChars / charsPerToken

	var pct float64
	if fullTokens > 0 {
		pct = (1 - float64(diffTokens)/float64(fullTokens)) * 100
	}

	return SavingsEstimate{
		FullTokens: fullTokens,
		DiffTokens: diffTokens,
		SavingsPct: pct,
	}
}

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}
