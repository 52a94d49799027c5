package runner

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult contains a rendered unified diff and its statistics.
type DiffResult struct {
	UnifiedDiff  string
	AddedLines   int
	DeletedLines int
	IsBinary     bool
}

// DiffRenderer turns file changes into unified diffs for preview output.
type DiffRenderer struct {
	colorEnabled bool
}

func NewDiffRenderer(colorEnabled bool) *DiffRenderer {
	return &DiffRenderer{colorEnabled: colorEnabled}
}

const maxDiffSize = 10 * 1024 * 1024

// Render creates a unified diff between old and new content.
func (r *DiffRenderer) Render(oldContent, newContent, filename string) *DiffResult {
	if oldContent == newContent {
		return &DiffResult{}
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return &DiffResult{
			UnifiedDiff: fmt.Sprintf("Binary file %s has changed", filename),
			IsBinary:    true,
		}
	}
	if len(oldContent) > maxDiffSize || len(newContent) > maxDiffSize {
		return &DiffResult{
			UnifiedDiff: fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ Large file (>10MB), diff skipped @@", filename, filename),
		}
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(oldContent, diffs)

	added, deleted := countChanges(diffs)
	return &DiffResult{
		UnifiedDiff:  r.format(dmp.PatchToText(patches), filename),
		AddedLines:   added,
		DeletedLines: deleted,
	}
}

// ApplyPatch applies a diffmatchpatch patch text to content. It fails if
// any hunk could not be placed.
func ApplyPatch(content, patchText string) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("parse patch: %w", err)
	}
	if len(patches) == 0 {
		return content, nil
	}
	result, applied := dmp.PatchApply(patches, content)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("hunk %d/%d did not apply", i+1, len(patches))
		}
	}
	return result, nil
}

func (r *DiffRenderer) format(patchText, filename string) string {
	var out strings.Builder
	out.WriteString(r.colorize("--- a/"+filename+"\n", color.FgRed))
	out.WriteString(r.colorize("+++ b/"+filename+"\n", color.FgGreen))

	for _, line := range strings.Split(patchText, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			out.WriteString(r.colorize(line+"\n", color.FgCyan))
		case strings.HasPrefix(line, "+"):
			out.WriteString(r.colorize(line+"\n", color.FgGreen))
		case strings.HasPrefix(line, "-"):
			out.WriteString(r.colorize(line+"\n", color.FgRed))
		case line != "":
			out.WriteString(line + "\n")
		}
	}
	return out.String()
}

func (r *DiffRenderer) colorize(text string, attr color.Attribute) string {
	if !r.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}

func countChanges(diffs []diffmatchpatch.Diff) (added, deleted int) {
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += strings.Count(d.Text, "\n")
			if !strings.HasSuffix(d.Text, "\n") {
				added++
			}
		case diffmatchpatch.DiffDelete:
			deleted += strings.Count(d.Text, "\n")
			if !strings.HasSuffix(d.Text, "\n") {
				deleted++
			}
		}
	}
	return
}

func isBinary(content string) bool {
	checkLen := len(content)
	if checkLen > 8000 {
		checkLen = 8000
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// FormatSummary returns a human-readable summary of changes.
func (dr *DiffResult) FormatSummary() string {
	if dr.IsBinary {
		return "Binary file changed"
	}
	if dr.AddedLines == 0 && dr.DeletedLines == 0 {
		return "No changes"
	}
	var parts []string
	if dr.AddedLines > 0 {
		parts = append(parts, fmt.Sprintf("+%d lines", dr.AddedLines))
	}
	if dr.DeletedLines > 0 {
		parts = append(parts, fmt.Sprintf("-%d lines", dr.DeletedLines))
	}
	return strings.Join(parts, ", ")
}
