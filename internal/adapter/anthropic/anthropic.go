package anthropic

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

// Ensure AnthropicAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*AnthropicAdapter)(nil)

const (
	defaultMaxTokens = 4096
	defaultModel     = "claude-3-5-sonnet-20241022"
)

// AnthropicAdapter sends requests to the Anthropic Messages API.
type AnthropicAdapter struct {
	apiKey       string
	baseURL      string
	version      string // API version header
	httpClient   *http.Client
	streamClient *http.Client
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional, defaults to 2023-06-01
	RequestTimeout time.Duration
}

// New creates an AnthropicAdapter instance.
func New(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &AnthropicAdapter{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		version:      version,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}, nil
}

// BaseURL returns the API root requests are sent to.
func (a *AnthropicAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion converts the request to Anthropic format and sends it.
func (a *AnthropicAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	httpReq, err := a.newRequest(ctx, req, false)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("anthropic: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return openai.ChatCompletionResponse{}, decodeError(resp.StatusCode, respBody)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	return convertToOpenAIResponse(anthropicResp, req.Model), nil
}

// CreateCompletionStream sends a streaming request and converts text deltas
// into OpenAI-style chunks.
func (a *AnthropicAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	httpReq, err := a.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
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

		var (
			messageID   = "msg-stream"
			roleEmitted bool
			failed      bool
		)
		err := adapter.ScanSSE(resp.Body, func(eventType string, data []byte) bool {
			payload := bytes.TrimSpace(data)
			if string(payload) == "{}" || string(payload) == "[DONE]" {
				return true
			}
			var evt streamEvent
			if perr := json.Unmarshal(payload, &evt); perr != nil {
				failed = true
				send(adapter.StreamEvent{Error: fmt.Errorf("anthropic: parse stream: %w", perr)})
				return false
			}
			if evt.Type == "" {
				evt.Type = eventType
			}
			switch evt.Type {
			case "message_start":
				if evt.Message.ID != "" {
					messageID = evt.Message.ID
				}
			case "content_block_delta":
				if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
					return true
				}
				role := ""
				if !roleEmitted {
					roleEmitted = true
					role = openai.RoleAssistant
				}
				chunk := openai.NewTextChunk(messageID, req.Model, role, evt.Delta.Text)
				return send(adapter.StreamEvent{Chunk: &chunk})
			case "error":
				failed = true
				msg := evt.Error.Message
				if msg == "" {
					msg = "stream error"
				}
				send(adapter.StreamEvent{Error: fmt.Errorf("anthropic: %s (type=%s)", msg, evt.Error.Type)})
				return false
			case "message_stop":
				return false
			}
			return true
		})
		if err != nil && !failed {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			send(adapter.StreamEvent{Error: fmt.Errorf("anthropic: read stream: %w", err)})
		}
	}()
	return ch, nil
}

func (a *AnthropicAdapter) newRequest(ctx context.Context, req openai.ChatCompletionRequest, stream bool) (*http.Request, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: no messages provided")
	}

	messages, systemPrompt, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]interface{}{
		"model":      mapModelName(req.Model),
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if stream {
		payload["stream"] = true
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		payload["top_p"] = *req.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	return httpReq, nil
}

func decodeError(status int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("anthropic: %s (type=%s)", errResp.Error.Message, errResp.Error.Type)
	}
	return fmt.Errorf("anthropic: http %d: %s", status, strings.TrimSpace(string(body)))
}

// anthropicMessage represents a message in Anthropic's format.
type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content,omitempty"`
}

// anthropicContentBlock represents a text content block.
type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// anthropicResponse represents Anthropic's response format.
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent is the subset of Messages API stream events we read.
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertMessages converts chat messages to Anthropic format.
// System messages are folded into the returned system prompt.
func convertMessages(in []openai.ChatMessage) ([]anthropicMessage, string, error) {
	var messages []anthropicMessage
	var systemPrompt string

	for _, msg := range in {
		role := strings.ToLower(msg.Role)

		if role == openai.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}

		if role != openai.RoleAssistant {
			role = openai.RoleUser
		}

		messages = append(messages, anthropicMessage{
			Role:    role,
			Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
		})
	}

	if len(messages) == 0 {
		return nil, "", errors.New("no user/assistant messages after filtering system messages")
	}

	return messages, systemPrompt, nil
}

// mapModelName expands short aliases. Full claude-* ids pass through; any
// other name gets the default model.
func mapModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	switch model {
	case "claude", "claude-3", "claude-opus":
		return "claude-3-opus-20240229"
	case "claude-sonnet", "claude-3-sonnet":
		return defaultModel
	case "claude-haiku", "claude-3-haiku":
		return "claude-3-5-haiku-20241022"
	}
	if strings.HasPrefix(model, "claude-") {
		return model
	}
	return defaultModel
}

// convertToOpenAIResponse converts an Anthropic response to the canonical format.
func convertToOpenAIResponse(resp anthropicResponse, originalModel string) openai.ChatCompletionResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	finishReason := "stop"
	if resp.StopReason == "max_tokens" {
		finishReason = "length"
	}

	out := openai.NewCompletionResponse(resp.ID, originalModel, openai.ChatMessage{
		Role:    openai.RoleAssistant,
		Content: content.String(),
	}, openai.UsageBreakdown{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	})
	out.Choices[0].FinishReason = finishReason
	return out
}
