// Package llm provides interfaces and types for language model client implementations.
package llm

import (
	"context"
	"fmt"
)

// Role represents the role of a message in a completion request.
type Role string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the human user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant Role = "assistant"
)

const (
	// TemperatureDeterministic is the temperature for intent extraction.
	// Structured-output parsing wants near-deterministic generations.
	TemperatureDeterministic = 0.1

	// DefaultMaxTokens bounds intent responses; parsed intents are small.
	DefaultMaxTokens = 1024
)

// Message represents a message in a completion request.
type Message struct {
	Content string
	Role    Role
}

// Request represents a request to generate a completion.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response represents a response from a completion request.
type Response struct {
	Content    string // Main response text
	StopReason string // Why the response stopped, provider-specific
}

// Client defines the interface for language model interactions.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// ListModels returns the model identifiers available to this client's
	// credential, in provider order.
	ListModels(ctx context.Context) ([]string, error)

	// ModelName returns the model identifier this client targets.
	ModelName() string
}

// NewRequest creates a completion request with default generation settings.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDeterministic,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Config represents configuration for a model client.
type Config struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate validates the client configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}

// SplitSystem separates the system instruction from conversational messages,
// for providers that take the system prompt as a top-level parameter.
func SplitSystem(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for i := range messages {
		if messages[i].Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += messages[i].Content
			continue
		}
		rest = append(rest, messages[i])
	}
	return system, rest
}
