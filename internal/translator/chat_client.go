package translator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "llama-3.1-8b-instant"

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	HTTPClient  *http.Client // shared across requests; default has pooled keep-alive connections
}

// ChatClient is a Completer speaking the OpenAI chat-completions protocol.
type ChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewChatClient creates a ChatClient.
func NewChatClient(cfg ChatConfig) *ChatClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = base
	oc.HTTPClient = hc

	// The request field is omitempty, so an exact zero would fall back to the
	// provider's default temperature.
	temp := cfg.Temperature
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}

	return &ChatClient{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: temp,
	}
}

// Complete sends one system + one user message and returns the first choice.
func (c *ChatClient) Complete(ctx context.Context, systemInstruction, userText string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("ChatClient.Complete: %w", describeError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ChatClient.Complete: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// describeError prefixes upstream HTTP failures with their status code.
func describeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return fmt.Errorf("status %d: %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("status %d: %w", reqErr.HTTPStatusCode, err)
	}
	return err
}
