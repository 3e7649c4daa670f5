package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
)

// Ensure OpenAIAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter sends requests to the OpenAI API or any compatible proxy.
type OpenAIAdapter struct {
	apiKey       string
	baseURL      string
	org          string // optional organization ID
	headers      map[string]string
	httpClient   *http.Client
	streamClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	RequestTimeout time.Duration
	// Headers are sent on every request, e.g. Helicone-Auth when routed
	// through an observability proxy.
	Headers map[string]string
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		if strings.TrimSpace(k) != "" {
			headers[k] = v
		}
	}

	return &OpenAIAdapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		org:     cfg.Organization,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Streams are bounded by the caller's context, not a wall clock.
		streamClient: &http.Client{},
	}, nil
}

// BaseURL returns the API root requests are sent to.
func (a *OpenAIAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion sends a chat completion request to OpenAI.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("openai: no messages provided")
	}

	httpReq, err := a.newRequest(ctx, req, false)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return openai.ChatCompletionResponse{}, decodeError(resp.StatusCode, respBody)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}

	return completion, nil
}

// CreateCompletionStream starts a streaming completion. Chunks are forwarded
// as they arrive; the channel closes after [DONE], EOF or the first error.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages provided")
	}

	httpReq, err := a.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeError(resp.StatusCode, data)
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(ev adapter.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			default:
			}
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		failed := false
		err := adapter.ScanSSE(resp.Body, func(_ string, data []byte) bool {
			if string(bytes.TrimSpace(data)) == "[DONE]" {
				return false
			}
			var frame struct {
				openai.ChatCompletionChunk
				Error *apiError `json:"error"`
			}
			if perr := json.Unmarshal(data, &frame); perr != nil {
				failed = true
				send(adapter.StreamEvent{Error: fmt.Errorf("openai: parse stream: %w", perr)})
				return false
			}
			if frame.Error != nil && frame.Error.Message != "" {
				failed = true
				send(adapter.StreamEvent{Error: fmt.Errorf("openai: %s", frame.Error.Message)})
				return false
			}
			chunk := frame.ChatCompletionChunk
			return send(adapter.StreamEvent{Chunk: &chunk})
		})
		if err != nil && !failed {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			send(adapter.StreamEvent{Error: fmt.Errorf("openai: read stream: %w", err)})
		}
	}()
	return ch, nil
}

func (a *OpenAIAdapter) newRequest(ctx context.Context, req openai.ChatCompletionRequest, stream bool) (*http.Request, error) {
	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func decodeError(status int, body []byte) error {
	var errResp struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("openai: %s (type=%s, code=%s)", errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
	}
	return fmt.Errorf("openai: http %d: %s", status, strings.TrimSpace(string(body)))
}
