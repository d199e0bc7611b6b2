/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package extract pulls fenced code blocks out of free-form comment and
// commit text. Two block kinds matter to the pipeline: Lean proof source and
// JSON modeling metadata.
package extract

import (
	"strings"
)

// Kind identifies which tagged fence a block was extracted from.
type Kind string

const (
	// KindLean is a fenced block tagged with the Lean language marker.
	KindLean Kind = "lean"
	// KindJSON is a fenced block tagged with the JSON language marker.
	KindJSON Kind = "json"
)

// Block is one extracted fenced block with its fence tag stripped and its
// content trimmed.
type Block struct {
	Kind    Kind
	Content string
}

// transform rewrites comment text before the fence scan. Transforms are
// tried in order and the first matching scan wins: a reply that quotes the
// previous comment hides the fence behind a leading "> " marker that a scan
// over the raw text would miss.
type transform func(string) string

// transforms is the ordered list of rewrite strategies: unquoted first,
// then the raw text.
var transforms = []transform{unquote, raw}

func raw(text string) string { return text }

// unquote strips a single leading quote marker from each line that has one.
// Only one level is removed; nested quotes stay quoted.
func unquote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ">") {
			lines[i] = strings.TrimSpace(line[1:])
		}
	}
	return strings.Join(lines, "\n")
}

// Lean returns the first Lean fenced block in the text, trying the unquoted
// variant before the raw text. The second result is false when no such block
// exists in either variant.
func Lean(text string) (string, bool) {
	return fencedBlock(text, KindLean)
}

// JSON returns the first JSON fenced block in the text, with the same
// two-pass policy as Lean.
func JSON(text string) (string, bool) {
	return fencedBlock(text, KindJSON)
}

// Blocks extracts whichever of the two block kinds are present. Zero, one,
// or both may be returned; absence of both is a terminal no-op upstream.
func Blocks(text string) []Block {
	var blocks []Block
	if lean, ok := Lean(text); ok {
		blocks = append(blocks, Block{Kind: KindLean, Content: lean})
	}
	if meta, ok := JSON(text); ok {
		blocks = append(blocks, Block{Kind: KindJSON, Content: meta})
	}
	return blocks
}

func fencedBlock(text string, kind Kind) (string, bool) {
	for _, tf := range transforms {
		if content, ok := scan(tf(text), string(kind)); ok {
			return content, true
		}
	}
	return "", false
}

// scan walks the text line by line collecting the first block fenced by
// ```<tag> ... ```.
func scan(text, tag string) (string, bool) {
	open := "```" + tag

	var body strings.Builder
	inBlock := false
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\n")
		switch {
		case !inBlock && strings.EqualFold(strings.TrimSpace(line), open):
			inBlock = true
		case inBlock && strings.TrimSpace(line) == "```":
			return strings.TrimSpace(body.String()), true
		case inBlock:
			if body.Len() > 0 {
				body.WriteString("\n")
			}
			body.WriteString(line)
		}
	}
	// An unterminated fence is not a block.
	return "", false
}
