// Package rest is the typed HTTP client for the external message, user, and
// room service. The sync engine consumes it for history fetches and message
// persistence; directory and room-creation calls are passthroughs whose
// policy lives entirely on the server.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

// HistoryFetchError reports that a history fetch could not be completed.
// The caller leaves the timeline at its last known state; nothing is
// cleared.
type HistoryFetchError struct {
	RoomID int64
	Err    error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("rest: fetch history room %d: %v", e.RoomID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// ErrorResponse is the service's error body shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client provides REST access to the chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// User directory endpoints

// CreateUser registers a new user.
func (c *Client) CreateUser(ctx context.Context, user chat.User) (*chat.User, error) {
	var resp chat.User
	if err := c.post(ctx, "/users", user, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserByID fetches a user by ID.
func (c *Client) UserByID(ctx context.Context, id int64) (*chat.User, error) {
	var resp chat.User
	if err := c.get(ctx, "/users/"+strconv.FormatInt(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserByUsername fetches a user by exact username.
func (c *Client) UserByUsername(ctx context.Context, username string) (*chat.User, error) {
	var resp chat.User
	if err := c.get(ctx, "/users/username/"+url.PathEscape(username), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AllUsers lists every registered user.
func (c *Client) AllUsers(ctx context.Context) ([]chat.User, error) {
	var resp []chat.User
	if err := c.get(ctx, "/users", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SearchUsers searches the directory. Result ranking and tie-breaking are
// the directory service's contract.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	var resp []chat.User
	if err := c.get(ctx, "/users/search?query="+url.QueryEscape(query), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// OnlineUsers lists users currently online.
func (c *Client) OnlineUsers(ctx context.Context) ([]chat.User, error) {
	var resp []chat.User
	if err := c.get(ctx, "/users/online", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateUserStatus reports a presence change for the user.
func (c *Client) UpdateUserStatus(ctx context.Context, id int64, status chat.UserStatus) error {
	path := fmt.Sprintf("/users/%d/status?status=%s", id, url.QueryEscape(string(status)))
	return c.put(ctx, path, nil, nil)
}

// Room endpoints

// CreateDirectRoomRequest is the body for creating a one-to-one room.
type CreateDirectRoomRequest struct {
	User1ID int64 `json:"user1Id"`
	User2ID int64 `json:"user2Id"`
}

// CreateGroupRoomRequest is the body for creating a group room.
type CreateGroupRoomRequest struct {
	Name      string  `json:"name"`
	CreatedBy int64   `json:"createdBy"`
	MemberIDs []int64 `json:"memberIds"`
}

// CreateDirectRoom creates (or returns) the direct room between two users.
func (c *Client) CreateDirectRoom(ctx context.Context, req CreateDirectRoomRequest) (*chat.Room, error) {
	var resp chat.Room
	if err := c.post(ctx, "/chat-rooms/direct", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateGroupRoom creates a group room with the given members.
func (c *Client) CreateGroupRoom(ctx context.Context, req CreateGroupRoomRequest) (*chat.Room, error) {
	var resp chat.Room
	if err := c.post(ctx, "/chat-rooms/group", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomByID fetches room metadata by ID.
func (c *Client) RoomByID(ctx context.Context, id int64) (*chat.Room, error) {
	var resp chat.Room
	if err := c.get(ctx, "/chat-rooms/"+strconv.FormatInt(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomsForUser lists the rooms the user belongs to.
func (c *Client) RoomsForUser(ctx context.Context, userID int64) ([]chat.Room, error) {
	var resp []chat.Room
	if err := c.get(ctx, "/chat-rooms/user/"+strconv.FormatInt(userID, 10), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Message endpoints

// EditMessageRequest is the body for editing a message in place.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage persists a message through the request/response path.
func (c *Client) SendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	var resp chat.Message
	if err := c.post(ctx, "/messages", msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatHistory fetches a page of a room's message history, oldest-first
// within the page.
func (c *Client) ChatHistory(ctx context.Context, roomID int64, page, size int) ([]chat.Message, error) {
	path := fmt.Sprintf("/messages/room/%d?page=%d&size=%d", roomID, page, size)
	var resp []chat.Message
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, &HistoryFetchError{RoomID: roomID, Err: err}
	}
	return resp, nil
}

// RecentMessages fetches the most recent messages for a room, bounded by
// limit.
func (c *Client) RecentMessages(ctx context.Context, roomID int64, limit int) ([]chat.Message, error) {
	path := fmt.Sprintf("/messages/room/%d/recent?limit=%d", roomID, limit)
	var resp []chat.Message
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, &HistoryFetchError{RoomID: roomID, Err: err}
	}
	return resp, nil
}

// EditMessage updates a message's content in place.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (*chat.Message, error) {
	var resp chat.Message
	if err := c.put(ctx, "/messages/"+strconv.FormatInt(messageID, 10), EditMessageRequest{Content: content}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
