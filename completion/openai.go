/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package completion

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls the OpenAI chat completions API with a fixed system/user role
// pairing.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI constructs an OpenAI provider. An empty model selects GPT-4o.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements Provider.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		clog.FromContext(ctx).Warn("OpenAI returned an empty completion")
		return NoResponse, nil
	}
	return resp.Choices[0].Message.Content, nil
}
