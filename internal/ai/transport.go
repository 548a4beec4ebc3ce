// Package ai talks to a generative text endpoint: it renders a prompt, sends
// it with bounded retries and extracts the JSON document from the reply.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/sashabaranov/go-openai"

	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/faults"
)

// Transport sends one prompt and returns the generated text
type Transport interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StatusError is an HTTP-level failure reported by the endpoint
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a transport failure may succeed on a later
// attempt: network errors, timeouts, rate limits and server errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if faults.Is(err, faults.KindAIResponseMalformed) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode == http.StatusTooManyRequests ||
			status.StatusCode == http.StatusRequestTimeout ||
			status.StatusCode >= 500
	}

	// everything else is network-level
	return true
}

// NewTransport builds the transport selected by cfg.Provider
func NewTransport(cfg config.AIConfig) (Transport, error) {
	switch cfg.Provider {
	case "huggingface":
		return NewHuggingFaceTransport(cfg), nil
	case "openai":
		return NewOpenAITransport(cfg), nil
	case "azure":
		t, err := NewAzureTransport(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
}

// HuggingFaceTransport calls a text-generation inference endpoint
type HuggingFaceTransport struct {
	endpoint   string
	token      string
	params     hfParameters
	httpClient *http.Client
}

type hfParameters struct {
	MaxLength      int     `json:"max_length"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

// NewHuggingFaceTransport creates a transport for the endpoint in cfg
func NewHuggingFaceTransport(cfg config.AIConfig) *HuggingFaceTransport {
	return &HuggingFaceTransport{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		params: hfParameters{
			MaxLength:      cfg.MaxTokens,
			Temperature:    cfg.Temperature,
			TopP:           cfg.TopP,
			ReturnFullText: false,
		},
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Generate posts the prompt and returns the first generated text
func (t *HuggingFaceTransport) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hfRequest{Inputs: prompt, Parameters: t.params})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var generations []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(respBody, &generations); err != nil {
		return "", faults.Wrap(faults.KindAIResponseMalformed, err, "response is not a list of generations")
	}
	if len(generations) == 0 || strings.TrimSpace(generations[0].GeneratedText) == "" {
		return "", faults.New(faults.KindAIResponseMalformed, "no generated text in response")
	}
	return generations[0].GeneratedText, nil
}

// OpenAITransport calls an OpenAI-compatible chat completion API
type OpenAITransport struct {
	client *openai.Client
	cfg    config.AIConfig
}

// NewOpenAITransport creates a transport for the API in cfg. An empty
// endpoint uses the public OpenAI API.
func NewOpenAITransport(cfg config.AIConfig) *OpenAITransport {
	clientCfg := openai.DefaultConfig(cfg.Token)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &OpenAITransport{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate sends the prompt as a single user message
func (t *OpenAITransport) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: float32(t.cfg.Temperature),
		TopP:        float32(t.cfg.TopP),
		MaxTokens:   t.cfg.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			return "", &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
			return "", &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", faults.New(faults.KindAIResponseMalformed, "no completion received")
	}
	return resp.Choices[0].Message.Content, nil
}

// AzureTransport calls an Azure OpenAI deployment
type AzureTransport struct {
	client       *azopenai.Client
	deploymentID string
	cfg          config.AIConfig
}

// NewAzureTransport creates a transport for the deployment named by cfg.Model
func NewAzureTransport(cfg config.AIConfig) (*AzureTransport, error) {
	keyCredential := azcore.NewKeyCredential(cfg.Token)
	client, err := azopenai.NewClientWithKeyCredential(cfg.Endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure OpenAI client: %w", err)
	}
	return &AzureTransport{client: client, deploymentID: cfg.Model, cfg: cfg}, nil
}

// Generate sends the prompt as a single user message
func (t *AzureTransport) Generate(ctx context.Context, prompt string) (string, error) {
	if t.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := t.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(t.deploymentID),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(prompt),
				},
			},
			Temperature: to.Ptr(float32(t.cfg.Temperature)),
			TopP:        to.Ptr(float32(t.cfg.TopP)),
			MaxTokens:   to.Ptr(int32(t.cfg.MaxTokens)),
		},
		nil,
	)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return "", &StatusError{StatusCode: respErr.StatusCode, Message: respErr.ErrorCode}
		}
		return "", err
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", faults.New(faults.KindAIResponseMalformed, "no completion received")
}

// isTimeout reports whether err is a deadline or network timeout
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
