/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package completion abstracts the completion provider behind a single
// prompt-in, text-out call. Provider selection and model identity are
// configuration details; the pipeline never depends on a concrete backend.
package completion

import (
	"context"
	"fmt"
)

// NoResponse is returned in place of an empty completion so callers can post
// something rather than an empty comment.
const NoResponse = "[No response]"

// Provider takes a system prompt and a user prompt and returns the model's
// text reply. Errors are fatal for the calling run; there is no retry.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	// Backend is "openai" or "anthropic".
	Backend string `env:"COMPLETION_BACKEND, default=openai"`
	Model   string `env:"COMPLETION_MODEL"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
}

// New constructs the configured backend.
func New(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.Model), nil
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported completion backend %q", cfg.Backend)
	}
}
