/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package diffbundle turns hosting-provider file-change lists into bounded
// textual diff bundles suitable for prompting, and parses patches back into
// structured hunks for position validation.
package diffbundle

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"
	"github.com/waigani/diffparser"
)

// DefaultMaxLines caps the total number of patch lines in a bundle so prompt
// size stays bounded regardless of how large the change set is.
const DefaultMaxLines = 1000

// Build accumulates per-file fenced diff blocks from the changed files, up to
// maxLines total patch lines. Files without a patch (binary, renamed-only)
// are skipped. A file whose patch exceeds the remaining budget is cut and
// marked truncated; once the budget is exhausted no further files are
// emitted. Pass maxLines <= 0 for DefaultMaxLines.
func Build(files []*github.CommitFile, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	var blocks []string
	total := 0
	for _, file := range files {
		patch := file.GetPatch()
		if patch == "" {
			continue
		}

		remaining := maxLines - total
		if remaining <= 0 {
			break
		}

		lines := strings.Split(patch, "\n")
		chunk := lines
		truncated := false
		if len(lines) > remaining {
			chunk = lines[:remaining]
			truncated = true
		}
		total += len(chunk)

		var b strings.Builder
		fmt.Fprintf(&b, "### %s\n```diff\n%s", file.GetFilename(), strings.Join(chunk, "\n"))
		if truncated {
			b.WriteString("\n... [truncated]")
		}
		b.WriteString("\n```")
		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n\n")
}

// Hunks parses each file's unified-diff patch into structured hunks, keyed by
// filename. GitHub patches carry bare @@ hunks, so a minimal file header is
// synthesized before parsing. Files without a patch, or whose patch fails to
// parse, are absent from the result.
func Hunks(files []*github.CommitFile) map[string]*diffparser.DiffFile {
	out := make(map[string]*diffparser.DiffFile, len(files))
	for _, file := range files {
		patch := file.GetPatch()
		name := file.GetFilename()
		if patch == "" || name == "" {
			continue
		}

		framed := fmt.Sprintf("--- a/%s\n+++ b/%s\n%s\n", name, name, patch)
		diff, err := diffparser.Parse(framed)
		if err != nil || len(diff.Files) == 0 {
			continue
		}
		out[name] = diff.Files[0]
	}
	return out
}

// InNewRange reports whether line falls inside one of the file's hunks on the
// new side of the diff. Used to cross-check structured review comments before
// posting them.
func InNewRange(file *diffparser.DiffFile, line int) bool {
	if file == nil {
		return false
	}
	for _, hunk := range file.Hunks {
		start := hunk.NewRange.Start
		if line >= start && line < start+hunk.NewRange.Length {
			return true
		}
	}
	return false
}
