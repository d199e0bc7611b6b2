/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package modeling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
)

// IndexFile is the name of the modeling index inside ArtifactDir.
const IndexFile = "modeling-index.json"

// AggregateFile is the name of the generated entry-point file.
const AggregateFile = "Main" + ArtifactExt

// aggregateHeader marks the aggregate as generated.
const aggregateHeader = "-- Auto-generated by the modeling agent. Do not edit manually."

// Entry is one modeling index record. The namespace is unique per entry:
// re-writing the same namespace overwrites it, last write wins.
type Entry struct {
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
	Commit    string `json:"commit"`
}

// Index is the source of truth for regenerating the aggregate entry-point
// file, keyed by namespace.
type Index map[string]Entry

// LoadIndex reads the index from dir. A missing or corrupt file is treated
// as empty so a damaged index rebuilds rather than wedging the run.
func LoadIndex(ctx context.Context, dir string) Index {
	raw, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			clog.FromContext(ctx).Warnf("Unreadable %s, rebuilding: %v", IndexFile, err)
		}
		return Index{}
	}

	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		clog.FromContext(ctx).Warnf("Invalid %s, rebuilding: %v", IndexFile, err)
		return Index{}
	}
	return idx
}

// Upsert records the entry under its namespace, replacing any prior entry.
func (idx Index) Upsert(info PathInfo, commit string) {
	idx[info.Namespace] = Entry{
		Path:      info.FilePath,
		Namespace: info.Namespace,
		Commit:    commit,
	}
}

// Save persists the whole index back to dir, pretty-printed.
func (idx Index) Save(dir string) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// Aggregate renders the entry-point file content purely from the index: one
// import line and one open line per namespace, in sorted key order so the
// output is byte-stable for an unchanged index.
func (idx Index) Aggregate() string {
	namespaces := make([]string, 0, len(idx))
	for ns := range idx {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	var b strings.Builder
	b.WriteString(aggregateHeader)
	b.WriteString("\n\n")
	for _, ns := range namespaces {
		fmt.Fprintf(&b, "import %s\n", ns)
	}
	b.WriteString("\n")
	for _, ns := range namespaces {
		fmt.Fprintf(&b, "open %s\n", ns)
	}
	return b.String()
}

// WriteAggregate regenerates the aggregate file in dir from the index. The
// file is never incrementally patched.
func (idx Index) WriteAggregate(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, AggregateFile), []byte(idx.Aggregate()), 0o644); err != nil {
		return fmt.Errorf("writing aggregate: %w", err)
	}
	return nil
}
