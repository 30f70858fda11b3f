// Package oaiclient adapts OpenAI-compatible chat completion APIs (OpenAI, OpenRouter, local
// servers) to aisdk.LanguageModel.
package oaiclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/elee1766/chathistory/src/aisdk"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	// Streams are read through the same client, so the timeout covers a whole response.
	defaultTimeout = 5 * time.Minute
)

var _ aisdk.LanguageModel = (*Client)(nil)

// Client is a chat completion client bound to one model.
type Client struct {
	config Config
	client *openai.Client
	logger *slog.Logger
}

// NewClient creates a client. The API key and model are required.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if config.Model == "" {
		return nil, ErrNoModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	oc := openai.DefaultConfig(config.APIKey)
	oc.BaseURL = config.BaseURL
	oc.HTTPClient = httpClient

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		client: openai.NewClientWithConfig(oc),
		logger: logger.With("component", "oaiclient"),
	}, nil
}

// ModelID returns the configured model id.
func (c *Client) ModelID() string {
	return c.config.Model
}

// DoGenerate sends a non-streaming chat completion request.
func (c *Client) DoGenerate(ctx context.Context, params *aisdk.CallOptions) (*aisdk.GenerateResult, error) {
	req, err := c.buildRequest(params)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("method", "DoGenerate", "model", req.Model)
	logger.Debug("sending chat completion request", "messages", len(req.Messages), "tools", len(req.Tools))

	var resp openai.ChatCompletionResponse
	err = c.withRetry(ctx, logger, func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		logger.Error("request failed", "error", err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	res := &aisdk.GenerateResult{
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: aisdk.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:  int64(resp.Usage.TotalTokens),
		},
		ModelID: resp.Model,
	}
	if choice.Message.Content != "" {
		res.Content = append(res.Content, aisdk.Content{Type: aisdk.ContentText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		res.Content = append(res.Content, aisdk.Content{
			Type:       aisdk.ContentToolCall,
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Input:      tc.Function.Arguments,
		})
	}

	logger.Info("chat completion successful", "usage_total", resp.Usage.TotalTokens, "finish_reason", choice.FinishReason)
	return res, nil
}

// DoStream starts a streaming chat completion. Usage is requested in the final event.
func (c *Client) DoStream(ctx context.Context, params *aisdk.CallOptions) (*aisdk.StreamResult, error) {
	req, err := c.buildRequest(params)
	if err != nil {
		return nil, err
	}
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	logger := c.logger.With("method", "DoStream", "model", req.Model)
	logger.Debug("opening chat completion stream", "messages", len(req.Messages), "tools", len(req.Tools))

	var stream *openai.ChatCompletionStream
	err = c.withRetry(ctx, logger, func() error {
		var err error
		stream, err = c.client.CreateChatCompletionStream(ctx, req)
		return err
	})
	if err != nil {
		logger.Error("request failed", "error", err)
		return nil, err
	}

	return &aisdk.StreamResult{
		Stream:    newChunkStream(stream),
		RequestID: stream.Header().Get("X-Request-Id"),
	}, nil
}

// withRetry runs fn up to RetryCount times while it fails with a retryable error.
func (c *Client) withRetry(ctx context.Context, logger *slog.Logger, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.config.RetryCount; attempt++ {
		err := wrapError(fn())
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.config.RetryCount {
			break
		}

		delay := GetRetryDelay(err, attempt, c.config.RetryDelay)
		logger.Debug("request attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c *Client) buildRequest(params *aisdk.CallOptions) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{Model: c.config.Model}
	if params == nil || len(params.Prompt) == 0 {
		return req, &ValidationError{Field: "prompt", Message: "at least one message is required"}
	}

	for _, m := range params.Prompt {
		if m == nil {
			continue
		}
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args := tc.Input
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		req.Messages = append(req.Messages, msg)
	}

	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.MaxOutputTokens != nil {
		req.MaxTokens = *params.MaxOutputTokens
	}
	req.Stop = params.Stop

	for _, tool := range params.Tools {
		if tool == nil {
			continue
		}
		parameters := tool.Parameters
		if parameters == nil {
			parameters = aisdk.ObjectSchema(nil, nil)
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  parameters,
			},
		})
	}

	switch params.ToolChoice {
	case "":
	case "auto", "none", "required":
		req.ToolChoice = params.ToolChoice
	default:
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: params.ToolChoice},
		}
	}

	return req, nil
}

func mapFinishReason(r openai.FinishReason) aisdk.FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return aisdk.FinishStop
	case openai.FinishReasonLength:
		return aisdk.FinishLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return aisdk.FinishToolCalls
	case openai.FinishReasonContentFilter:
		return aisdk.FinishContentFilter
	case "", openai.FinishReasonNull:
		return aisdk.FinishUnknown
	default:
		return aisdk.FinishOther
	}
}
