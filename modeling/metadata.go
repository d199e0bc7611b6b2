/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package modeling maps extracted modeling metadata to deterministic artifact
// paths and namespaces, and maintains the modeling index plus the aggregate
// entry-point file regenerated from it.
package modeling

import (
	"encoding/json"
)

// MetadataKind discriminates the outcome of parsing modeling metadata so
// every downstream branch is handled explicitly rather than inferred from
// error shapes.
type MetadataKind int

const (
	// MetadataAbsent means no metadata block was supplied at all.
	MetadataAbsent MetadataKind = iota
	// MetadataMalformed means the block was not valid JSON.
	MetadataMalformed
	// MetadataMissingFunctionName means the JSON parsed but lacked the
	// required functionName field.
	MetadataMissingFunctionName
	// MetadataValid means the metadata carries everything derivation needs.
	MetadataValid
)

func (k MetadataKind) String() string {
	switch k {
	case MetadataAbsent:
		return "absent"
	case MetadataMalformed:
		return "malformed"
	case MetadataMissingFunctionName:
		return "missing-function-name"
	case MetadataValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Metadata is the validated result of parsing a modeling metadata block.
// FunctionName and Path are only meaningful when Kind is MetadataValid.
type Metadata struct {
	Kind         MetadataKind
	FunctionName string
	Path         string
}

// rawMetadata is the loosely-typed wire shape of the metadata block.
type rawMetadata struct {
	FunctionName *string `json:"functionName"`
	Path         string  `json:"path"`
	Source       string  `json:"source"`
}

// ParseMetadata validates a metadata block. A nil input is Absent; invalid
// JSON is Malformed; JSON without a string functionName is
// MissingFunctionName. None of these are failures: each maps to a defined
// fallback namespace in Derive.
func ParseMetadata(raw *string) Metadata {
	if raw == nil {
		return Metadata{Kind: MetadataAbsent}
	}

	var parsed rawMetadata
	if err := json.Unmarshal([]byte(*raw), &parsed); err != nil {
		return Metadata{Kind: MetadataMalformed}
	}
	if parsed.FunctionName == nil || *parsed.FunctionName == "" {
		return Metadata{Kind: MetadataMissingFunctionName}
	}

	path := parsed.Path
	if path == "" {
		path = parsed.Source
	}
	return Metadata{
		Kind:         MetadataValid,
		FunctionName: *parsed.FunctionName,
		Path:         path,
	}
}
