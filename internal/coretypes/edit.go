package coretypes

// EditBlock is a line-anchored substitution in a text file, as produced by
// the Diff Editor's prompt/parse pipeline.
//
// Invariants (enforced by diffedit.ValidateEdits, not by construction):
// 1 <= StartLine <= EndLine <= file line count; no two blocks in a list
// overlap by line range; when OldContent is non-empty it must equal the
// file's current content on [StartLine,EndLine] at validation time.
type EditBlock struct {
	StartLine   int
	EndLine     int
	OldContent  string
	NewContent  string
	Description string
}
