package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API is a client for the chat-service REST surface.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateConversation returns the caller's conversation for area, creating it if needed.
func (a *API) CreateConversation(ctx context.Context, area string) (*ConversationSummary, error) {
	var out ConversationSummary
	if err := a.do(ctx, http.MethodPost, "/api/v1/conversations", nil, map[string]string{"area": area}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) ListConversations(ctx context.Context, page, pageSize int, filter string) (*ConversationPage, error) {
	q := pageQuery(page, pageSize)
	if filter != "" {
		q.Set("q", filter)
	}

	var out ConversationPage
	if err := a.do(ctx, http.MethodGet, "/api/v1/conversations", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetConversation(ctx context.Context, conversationID string) (*ConversationSummary, error) {
	var out ConversationSummary
	if err := a.do(ctx, http.MethodGet, conversationPath(conversationID, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages returns page (0 = newest) in chronological order.
func (a *API) ListMessages(ctx context.Context, conversationID string, page, pageSize int) (*MessagePage, error) {
	var out MessagePage
	if err := a.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), pageQuery(page, pageSize), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	var out Message
	if err := a.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), nil, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead returns how many messages were flipped.
func (a *API) MarkRead(ctx context.Context, conversationID string) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	if err := a.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (a *API) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, conversationPath(conversationID, "/unread"), nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// OpenConversation marks the counterpart's messages read and loads the newest page.
func (a *API) OpenConversation(ctx context.Context, conversationID string, pageSize int) (*OpenResult, error) {
	var out OpenResult
	if err := a.do(ctx, http.MethodPost, conversationPath(conversationID, "/open"), pageQuery(0, pageSize), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat api request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func conversationPath(conversationID, suffix string) string {
	return "/api/v1/conversations/" + url.PathEscape(conversationID) + suffix
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return q
}
