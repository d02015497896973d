package snapshot

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/evmts/agentcore/pkg/types"
)

// BuildPatch renders a patch for one file and counts changed lines.
// It returns the patch text with file headers, the number of added lines,
// and the number of deleted lines.
func BuildPatch(file, before, after string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patchText := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patchText == "" {
		return "", additions, deletions
	}

	var builder strings.Builder
	if file != "" {
		builder.WriteString(fmt.Sprintf("--- %s\n", file))
		builder.WriteString(fmt.Sprintf("+++ %s\n", file))
	}
	builder.WriteString(patchText)
	return builder.String(), additions, deletions
}

// RenderPatch concatenates the patches of every diff.
func RenderPatch(diffs []types.FileDiff) string {
	var builder strings.Builder
	for _, d := range diffs {
		text, _, _ := BuildPatch(d.File, d.Before, d.After)
		builder.WriteString(text)
	}
	return builder.String()
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
