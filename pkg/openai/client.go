// Package openai wraps go-openai chat completions for the AI ensemble.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Client performs a single system+user chat completion and returns the
// assistant's text.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Option configures the client.
type Option func(*goopenai.ClientConfig, *string)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *goopenai.ClientConfig, _ *string) { c.BaseURL = url }
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(_ *goopenai.ClientConfig, m *string) { *m = model }
}

type sdkClient struct {
	client *goopenai.Client
	model  string
}

// NewClient creates a chat client.
func NewClient(apiKey string, opts ...Option) Client {
	cfg := goopenai.DefaultConfig(apiKey)
	model := DefaultModel
	for _, o := range opts {
		o(&cfg, &model)
	}
	return &sdkClient{client: goopenai.NewClientWithConfig(cfg), model: model}
}

// StatusError is an API failure with its HTTP status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func (c *sdkClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		MaxCompletionTokens: 512,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return "", &StatusError{StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		return "", eris.Wrap(err, "openai: chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
