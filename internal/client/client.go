// Package client talks to the bettyd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/askbetty/betty/internal/chatstore"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/stream"
	"github.com/askbetty/betty/internal/version"
)

// UserHeader carries the caller identity.
const UserHeader = "X-User-ID"

// DefaultTimeout bounds non-streaming calls.
const DefaultTimeout = 30 * time.Second

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a typed client for the chat API.
type Client struct {
	baseURL    *url.URL
	httpClient HTTPClient
	userID     string
	timeout    time.Duration
	logger     *log.Logger
}

// New constructs a client for baseURL acting as userID. A nil httpClient
// uses one without an overall timeout so streams can run long.
func New(baseURL, userID string, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, userID: userID, timeout: DefaultTimeout}, nil
}

// SetLogger enables request logging.
func (c *Client) SetLogger(l *log.Logger) { c.logger = l }

// SetTimeout changes the bound on non-streaming calls; zero disables it.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("betty api: status %d", e.Status)
	}
	return fmt.Sprintf("betty api: %s", e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Messages       []openai.ChatMessage `json:"messages"`
	Message        string               `json:"message"`
	Model          string               `json:"model"`
}

// ConversationDetail is a conversation with its stored follow-up suggestions.
type ConversationDetail struct {
	chatstore.Conversation
	Suggestions []string `json:"suggestions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SendMessage starts a streamed reply. The response is returned as is,
// whatever its status, for stream.Read to interpret; the caller owns the
// body.
func (c *Client) SendMessage(ctx context.Context, req ChatRequest) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	c.logf("POST /api/chat model=%s conversation=%s", req.Model, req.ConversationID)
	return c.httpClient.Do(httpReq)
}

// Chat sends a message and consumes the stream until it ends.
func (c *Client) Chat(ctx context.Context, req ChatRequest, opts ...stream.Option) stream.Result {
	resp, err := c.SendMessage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Result{Canceled: true}
		}
		return stream.Result{Error: err.Error()}
	}
	return stream.Read(ctx, resp, opts...)
}

// GenerateTitle asks for a short title for the transcript. With a
// conversation id the server also renames that conversation.
func (c *Client) GenerateTitle(ctx context.Context, conversationID string, messages []openai.ChatMessage) (string, error) {
	var resp struct {
		Title string `json:"title"`
	}
	payload := map[string]any{"messages": messages}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate-title", payload, &resp); err != nil {
		return "", err
	}
	return resp.Title, nil
}

// Suggestions asks for follow-up questions. With a conversation id the
// server stores them on that conversation.
func (c *Client) Suggestions(ctx context.Context, conversationID string, messages []openai.ChatMessage) ([]string, error) {
	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	payload := map[string]any{"messages": messages}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/suggestions", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// Starters fetches conversation starters.
func (c *Client) Starters(ctx context.Context) ([]string, error) {
	var resp struct {
		Starters []string `json:"starters"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/starters", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Starters, nil
}

// Models lists the models the persona offers.
func (c *Client) Models(ctx context.Context) ([]openai.Model, error) {
	var resp openai.ModelList
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateConversation starts a conversation; an empty title gets the default.
func (c *Client) CreateConversation(ctx context.Context, title string) (chatstore.Conversation, error) {
	var conv chatstore.Conversation
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations", map[string]string{"title": title}, &conv)
	return conv, err
}

// ListConversations returns all of the user's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]chatstore.Conversation, error) {
	var resp struct {
		Conversations []chatstore.Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// RecentConversations returns one page of conversation previews.
func (c *Client) RecentConversations(ctx context.Context, limit int, cursor string) (chatstore.Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/conversations/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page chatstore.Page
	err := c.doJSON(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// GetConversation fetches one conversation with its suggestions.
func (c *Client) GetConversation(ctx context.Context, id string) (ConversationDetail, error) {
	var detail ConversationDetail
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &detail)
	return detail, err
}

// RenameConversation sets a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (chatstore.Conversation, error) {
	var conv chatstore.Conversation
	err := c.doJSON(ctx, http.MethodPatch, "/api/conversations/"+url.PathEscape(id), map[string]string{"title": title}, &conv)
	return conv, err
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// Messages returns a conversation's transcript in order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chatstore.Message, error) {
	var resp struct {
		Messages []chatstore.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	rel, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	c.logf("%s %s", method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		var errPayload errorResponse
		if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
			apiErr.Message = errPayload.Error
		}
		return apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
