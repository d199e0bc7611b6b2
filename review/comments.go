/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package review

import (
	"context"
	"encoding/json"

	"github.com/chainguard-dev/clog"

	"github.com/formalmind/agent/extract"
)

// Comment is one structured inline review comment parsed from a model reply.
// Line-addressed comments target pull request diffs; position-addressed
// comments target commits.
type Comment struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	StartLine int    `json:"start_line,omitempty"`
	Side      string `json:"side,omitempty"`
	StartSide string `json:"start_side,omitempty"`
	Position  *int   `json:"position,omitempty"`
	Body      string `json:"comment"`
}

// ParseComments extracts the fenced JSON list of review comments from a
// model reply. The second result is false when the reply carries no JSON
// block or the block is not a list. Entries that fail to decode are dropped
// with a warning; they never abort the batch.
func ParseComments(ctx context.Context, reply string) ([]Comment, bool) {
	log := clog.FromContext(ctx)

	block, ok := extract.JSON(reply)
	if !ok {
		log.Warn("Reply contains no JSON comment block")
		return nil, false
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(block), &entries); err != nil {
		log.Warnf("Reply JSON block is not a comment list: %v", err)
		return nil, false
	}

	comments := make([]Comment, 0, len(entries))
	for _, raw := range entries {
		var c Comment
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Warnf("Skipping malformed comment entry: %v", err)
			continue
		}
		comments = append(comments, c)
	}
	return comments, true
}

// ValidForPullRequest reports whether the comment carries the fields a pull
// request review comment requires.
func (c Comment) ValidForPullRequest() bool {
	return c.File != "" && c.Line > 0 && c.Body != ""
}

// ValidForCommit reports whether the comment carries the fields a commit
// comment requires.
func (c Comment) ValidForCommit() bool {
	return c.File != "" && c.Position != nil && c.Body != ""
}
