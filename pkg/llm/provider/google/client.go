// Package google provides the Gemini client implementation for the llm interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/StevenAri1995/RetailAgent/pkg/llm"
	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.Client.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewClient creates a new Gemini client for the given model (raw client,
// middleware applied at a higher level).
func NewClient(apiKey, model string) llm.Client {
	// Client creation requires a context, so it is deferred to first use.
	return &GeminiClient{
		client: nil,
		apiKey: apiKey,
		model:  model,
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) error {
	if g.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return nil
}

// Complete implements the llm.Client interface.
func (g *GeminiClient) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if err := g.ensureClient(ctx); err != nil {
		return llm.Response{}, err
	}

	system, rest := llm.SplitSystem(in.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		role := genai.RoleUser
		if rest[i].Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}

	//nolint:gosec // MaxTokens validated at higher layer, overflow acceptable
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.Response{}, classify(err, g.model)
	}
	if result == nil || result.Text() == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	return llm.Response{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}, nil
}

// ListModels returns model identifiers available to the credential, with the
// "models/" resource prefix stripped.
func (g *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, err
	}

	page, err := g.client.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return nil, classify(err, g.model)
	}

	var names []string
	for {
		for _, m := range page.Items {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, classify(err, g.model)
		}
	}
	return names, nil
}

// ModelName returns the model identifier for this client.
func (g *GeminiClient) ModelName() string {
	return g.model
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return string(result.Candidates[0].FinishReason)
}

func classify(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llmerrors.Error{
			Type:       llmerrors.ClassifyStatus(apiErr.Code),
			StatusCode: apiErr.Code,
			Model:      model,
			Err:        err,
			Message:    apiErr.Message,
		}
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, fmt.Sprintf("Gemini API call failed for %s", model))
}
