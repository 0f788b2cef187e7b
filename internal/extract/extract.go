// Package extract implements the Code Extractor: a pure function that
// salvages typed content from noisy model output. It follows the overall
// style used for classification in this codebase — small pure
// string-processing functions composed in a pipeline, each with a narrow
// single responsibility — generalized from verb inference to content
// salvage.
package extract

import (
	"regexp"
	"strings"
)

// Kind is the expected content type being extracted.
type Kind string

const (
	KindPython Kind = "py"
	KindJS     Kind = "js"
	KindTS     Kind = "ts"
	KindCSS    Kind = "css"
	KindHTML   Kind = "html"
	KindJSON   Kind = "json"
	KindMD     Kind = "md"
	KindOther  Kind = "other"
)

// Result is the outcome of one extraction.
type Result struct {
	Content    string
	Confidence float64
}

var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

var langAliases = map[Kind][]string{
	KindPython: {"py", "python"},
	KindJS:     {"js", "javascript"},
	KindTS:     {"ts", "typescript"},
	KindCSS:    {"css"},
	KindHTML:   {"html", "htm"},
	KindJSON:   {"json"},
	KindMD:     {"md", "markdown"},
}

var filenamePrefixPattern = regexp.MustCompile(`(?im)^\s*(#|//)\s*file:\s*\S+\s*$|^\s*file:\s*\S+\s*$|^\s*[\w./-]+\.\w+\s*$`)

var trailingNoisePattern = regexp.MustCompile(`(?im)^\s*(file:|---+|===+|step \d+:?)\s*$`)

var tailFragmentPattern = regexp.MustCompile(`(?i)\b(leted|eted|pleted)\s*$`)

// Extract implements extract(rawText, expectedKind) →
// {content, confidence}.
func Extract(rawText string, expectedKind Kind) Result {
	body := stripFencedBlocks(rawText, expectedKind)
	body = stripFilenamePrefixes(body)
	body = trimTrailingNoise(body)

	if validate(body, expectedKind) {
		return Result{Content: body, Confidence: 1.0}
	}

	if expectedKind == KindCSS || expectedKind == KindJS {
		if salvage, ok := salvageLongestValid(body, expectedKind); ok {
			return Result{Content: salvage, Confidence: 0.5}
		}
	}

	// Nothing validated; return the best-effort body at reduced confidence
	// rather than an empty string, so a caller can still inspect it.
	return Result{Content: body, Confidence: 0.2}
}

// stripFencedBlocks prefers the first fenced block whose language tag
// matches expectedKind; falls back to the first fenced block of any
// language; falls back to the raw text if there are no fences at all.
func stripFencedBlocks(text string, expectedKind Kind) string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text)
	}

	aliases := langAliases[expectedKind]
	for _, m := range matches {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		for _, alias := range aliases {
			if lang == alias {
				return strings.TrimSpace(m[2])
			}
		}
	}
	return strings.TrimSpace(matches[0][2])
}

func stripFilenamePrefixes(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0:0]
	for _, line := range lines {
		if filenamePrefixPattern.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func trimTrailingNoise(text string) string {
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 {
		line := lines[end-1]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trailingNoisePattern.MatchString(trimmed) {
			end--
			continue
		}
		break
	}
	joined := strings.Join(lines[:end], "\n")
	return strings.TrimSpace(tailFragmentPattern.ReplaceAllString(joined, ""))
}

var cssSelectorPattern = regexp.MustCompile(`(?m)[.#]?[\w-]+(\s*[,>+~]\s*[.#]?[\w-]+)*\s*\{[^{}]*\}`)
var jsStatementPattern = regexp.MustCompile(`\b(function|const|let|var|class|=>)\b`)
var htmlTagPattern = regexp.MustCompile(`</?[a-zA-Z][\w-]*[^>]*>`)

var cssLineLooksLikeCode = regexp.MustCompile(`[{}:;]`)
var jsLineLooksLikeCode = regexp.MustCompile(`[{}();]|\b(function|const|let|var|class|return|=>)\b`)
var htmlLineLooksLikeCode = regexp.MustCompile(`[<>]`)

// validate applies shallow per-kind heuristics: the content must
// contain the expected structural marker (a selector block, an
// identifier-bearing statement, a tag) AND every non-blank line must itself
// look like the target language rather than mixed-in prose. The latter
// check is what lets validation genuinely fail on noisy model output so
// salvage has something to recover.
func validate(content string, kind Kind) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	switch kind {
	case KindCSS:
		return cssSelectorPattern.MatchString(trimmed) && everyLineLooksLike(trimmed, cssLineLooksLikeCode)
	case KindJS, KindTS:
		return jsStatementPattern.MatchString(trimmed) && everyLineLooksLike(trimmed, jsLineLooksLikeCode)
	case KindHTML:
		return htmlTagPattern.MatchString(trimmed) && everyLineLooksLike(trimmed, htmlLineLooksLikeCode)
	default:
		return true
	}
}

func everyLineLooksLike(content string, linePattern *regexp.Regexp) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !linePattern.MatchString(line) {
			return false
		}
	}
	return true
}

// salvageLongestValid scans substrings anchored at each line boundary,
// returning the longest one that independently passes the type's
// validation heuristic.
func salvageLongestValid(content string, kind Kind) (string, bool) {
	lines := strings.Split(content, "\n")
	best := ""
	for start := 0; start < len(lines); start++ {
		for end := len(lines); end > start; end-- {
			candidate := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
			if len(candidate) <= len(best) {
				continue
			}
			if validate(candidate, kind) {
				best = candidate
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
