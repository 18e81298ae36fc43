// Package ollama provides a local-model client implementation for the llm interface.
// It serves as an offline fallback when no remote candidate is usable.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/StevenAri1995/RetailAgent/pkg/llm"
	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client for a local endpoint and model.
func NewClient(endpoint, model string) (llm.Client, error) {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint %q: %w", endpoint, err)
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements the llm.Client interface.
func (o *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classify(err, o.model)
	}
	if response.Message.Content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from ollama")
	}

	return llm.Response{
		Content:    response.Message.Content,
		StopReason: response.DoneReason,
	}, nil
}

// ListModels returns the locally installed model names.
func (o *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, classify(err, o.model)
	}

	var names []string
	for i := range resp.Models {
		names = append(names, resp.Models[i].Name)
	}
	return names, nil
}

// ModelName returns the model identifier for this client.
func (o *Client) ModelName() string {
	return o.model
}

func classify(err error, model string) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &llmerrors.Error{
			Type:       llmerrors.ClassifyStatus(statusErr.StatusCode),
			StatusCode: statusErr.StatusCode,
			Model:      model,
			Err:        err,
			Message:    statusErr.ErrorMessage,
		}
	}
	// A local daemon that is not running presents as a connection error.
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("ollama call failed for %s", model))
}
