/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package modeling

import (
	"path"
	"strings"
)

// ArtifactExt is the extension of generated proof-artifact files.
const ArtifactExt = ".lean"

// ArtifactDir is the repo-relative directory all artifacts live under.
const ArtifactDir = "modeling"

// PathInfo is the deterministic artifact location derived from metadata.
type PathInfo struct {
	// FilePath is the repo-relative artifact path, e.g. "modeling/Auth/Login.lean".
	FilePath string
	// Namespace is the dotted identifier-safe namespace, e.g. "Auth.Login".
	Namespace string
}

// Fallbacks. Absent metadata and malformed metadata map to distinct pairs so
// consumers can tell "nothing supplied" from "malformed".
var (
	fallbackAbsent  = PathInfo{FilePath: "modeling/Unknown/Unknown.lean", Namespace: "Unknown.Unknown"}
	fallbackInvalid = PathInfo{FilePath: "modeling/InvalidJson.lean", Namespace: "InvalidJson"}
)

// Derive maps validated metadata to its artifact path and namespace. It is a
// pure function: identical metadata always yields an identical PathInfo.
func Derive(meta Metadata) PathInfo {
	switch meta.Kind {
	case MetadataAbsent:
		return fallbackAbsent
	case MetadataMalformed, MetadataMissingFunctionName:
		return fallbackInvalid
	}

	fileName := PascalCase(meta.FunctionName)
	if meta.Path == "" {
		return PathInfo{
			FilePath:  path.Join(ArtifactDir, fileName+ArtifactExt),
			Namespace: fileName,
		}
	}

	segments := splitPath(meta.Path)
	dirs := make([]string, 0, len(segments))
	for _, seg := range segments {
		dirs = append(dirs, PascalCase(stripExt(seg)))
	}

	parts := append(append([]string{}, dirs...), fileName)
	return PathInfo{
		FilePath:  path.Join(append([]string{ArtifactDir}, append(dirs, fileName+ArtifactExt)...)...),
		Namespace: strings.Join(parts, "."),
	}
}

// PascalCase normalizes free-form input into an identifier-safe token:
// non-alphanumeric characters become token boundaries, each token is
// title-cased, and the very first character is uppercased.
func PascalCase(s string) string {
	var b strings.Builder
	upperNext := false
	for i, r := range s {
		switch {
		case !isAlnum(r):
			upperNext = true
		case i == 0 || upperNext:
			b.WriteRune(toUpper(r))
			upperNext = false
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return out
	}
	return strings.ToUpper(out[:1]) + out[1:]
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}

// splitPath splits on both separator styles and drops empty segments.
func splitPath(p string) []string {
	var segments []string
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

func stripExt(seg string) string {
	if ext := path.Ext(seg); ext != "" {
		return strings.TrimSuffix(seg, ext)
	}
	return seg
}
