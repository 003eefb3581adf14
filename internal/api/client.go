// Package api is the thin HTTP client for the chat server's JSON
// endpoints. It owns request framing only; retry, scheduling and
// deduplication live with the callers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmarren/roomsync/internal/model"
)

// ErrSendLimited is returned when the local send limiter rejects a message.
var ErrSendLimited = errors.New("api: message sending rate limited")

// Client talks to one chat server instance.
type Client struct {
	baseURL  string
	http     *http.Client
	sendLim  *rate.Limiter
	clientID string
}

// New returns a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// SetClientID attaches an instance identity to every request. The server
// uses it to key presence buckets in the absence of authentication.
func (c *Client) SetClientID(id string) {
	c.clientID = id
}

// SetSendLimiter bounds outbound messages to requests per window.
func (c *Client) SetSendLimiter(requests int, window time.Duration) {
	c.sendLim = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type newMessagesRequest struct {
	ChatID        string `json:"chat_id"`
	ChatType      string `json:"chat_type"`
	LastTimestamp int64  `json:"last_timestamp,omitempty"`
}

type newMessagesResponse struct {
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Messages []model.Message `json:"messages"`
}

// chatTypeFor maps a room type to the message-fetch endpoint's chat_type
// value. The server names direct chats "private" on this endpoint while
// every other surface calls them "chat".
func chatTypeFor(t model.RoomType) string {
	if t == model.RoomTypeChat {
		return "private"
	}
	return string(t)
}

// NewMessages fetches all messages for room with timestamp strictly greater
// than lastTimestamp, ascending.
func (c *Client) NewMessages(ctx context.Context, room model.RoomRef, lastTimestamp int64) ([]model.Message, error) {
	body := newMessagesRequest{
		ChatID:        room.ID,
		ChatType:      chatTypeFor(room.Type),
		LastTimestamp: lastTimestamp,
	}

	var resp newMessagesResponse
	if err := c.postJSON(ctx, "/api/new_messages", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("api: new_messages status %q: %s", resp.Status, resp.Message)
	}
	return resp.Messages, nil
}

type roomPingRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RoomPing sends one presence beacon for room. Callers treat delivery as
// best-effort and ignore the returned error.
func (c *Client) RoomPing(ctx context.Context, room model.RoomRef) error {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.postJSON(ctx, "/api/room_ping", roomPingRequest{Type: string(room.Type), ID: room.ID}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("api: room_ping status %q", resp.Status)
	}
	return nil
}

// ActiveCounts fetches occupancy counts for the given rooms in one batched
// request, ids comma-joined per type.
func (c *Client) ActiveCounts(ctx context.Context, rooms []model.RoomRef) (model.ActiveCounts, error) {
	idsByType := map[model.RoomType][]string{}
	for _, r := range rooms {
		idsByType[r.Type] = append(idsByType[r.Type], r.ID)
	}

	q := url.Values{}
	if ids := idsByType[model.RoomTypeTopic]; len(ids) > 0 {
		q.Set("topic_ids", strings.Join(ids, ","))
	}
	if ids := idsByType[model.RoomTypeRelationship]; len(ids) > 0 {
		q.Set("relationship_ids", strings.Join(ids, ","))
	}
	if ids := idsByType[model.RoomTypeChat]; len(ids) > 0 {
		q.Set("chat_ids", strings.Join(ids, ","))
	}

	endpoint := "/api/active_counts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return model.ActiveCounts{}, err
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.clientID != "" {
		req.Header.Set("X-Client", c.clientID)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return model.ActiveCounts{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return model.ActiveCounts{}, fmt.Errorf("api: active_counts returned %d", res.StatusCode)
	}

	var counts model.ActiveCounts
	if err := json.NewDecoder(res.Body).Decode(&counts); err != nil {
		return model.ActiveCounts{}, fmt.Errorf("api: decode active_counts: %w", err)
	}
	return counts, nil
}

type sendMessageRequest struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
}

// SendMessage posts one message to room. The local limiter, when set,
// rejects bursts before they reach the network.
func (c *Client) SendMessage(ctx context.Context, room model.RoomRef, sender, content string) error {
	if c.sendLim != nil && !c.sendLim.Allow() {
		return ErrSendLimited
	}

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}
	body := sendMessageRequest{
		Type:       string(room.Type),
		ID:         room.ID,
		SenderName: sender,
		Content:    content,
	}
	if err := c.postJSON(ctx, "/api/send_message", body, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("api: send_message status %q: %s", resp.Status, resp.Message)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	p, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(p))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.clientID != "" {
		req.Header.Set("X-Client", c.clientID)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("api: %s returned %d", endpoint, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", endpoint, err)
	}
	return nil
}
