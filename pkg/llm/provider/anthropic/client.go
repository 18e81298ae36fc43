// Package anthropic provides the Claude client implementation for the llm interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/StevenAri1995/RetailAgent/pkg/llm"
	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
)

// ClaudeClient wraps the Anthropic API client to implement llm.Client.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a new Claude client with a specific model (raw client,
// middleware applied at a higher level).
func NewClient(apiKey, model string) llm.Client {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// Complete implements the llm.Client interface.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	system, rest := llm.SplitSystem(in.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for i := range rest {
		block := anthropic.NewTextBlock(rest[i].Content)
		if rest[i].Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(in.MaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if in.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(in.Temperature))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classify(err, string(c.model))
	}

	var content string
	for i := range resp.Content {
		if text := resp.Content[i].Text; text != "" {
			content += text
		}
	}
	if content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic API")
	}

	return llm.Response{
		Content:    content,
		StopReason: string(resp.StopReason),
	}, nil
}

// ListModels returns the model identifiers available to the credential.
func (c *ClaudeClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classify(err, string(c.model))
	}

	var names []string
	for i := range page.Data {
		names = append(names, page.Data[i].ID)
	}
	return names, nil
}

// ModelName returns the model identifier for this client.
func (c *ClaudeClient) ModelName() string {
	return string(c.model)
}

func classify(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llmerrors.Error{
			Type:       llmerrors.ClassifyStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Model:      model,
			Err:        err,
			Message:    apiErr.Error(),
		}
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, fmt.Sprintf("Anthropic API call failed for %s", model))
}
