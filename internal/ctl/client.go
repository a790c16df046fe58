// Package ctl is the commsyncctl client for the daemon's control API.
package ctl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/commdesk/commsync/internal/api"
	"github.com/go-resty/resty/v2"
)

// Client talks to a session daemon over its unix socket.
type Client struct {
	http *resty.Client
	raw  *http.Client
}

// New builds a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	raw := &http.Client{Transport: transport}
	rc := resty.NewWithClient(raw).
		SetBaseURL("http://commsync").
		SetTimeout(10 * time.Second)
	return &Client{http: rc, raw: raw}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	return checkResp(resp, err)
}

// Status fetches daemon health.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	if err := c.get(ctx, "/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List fetches all cached conversation summaries.
func (c *Client) List(ctx context.Context) ([]api.ConversationSummary, error) {
	var out []api.ConversationSummary
	if err := c.get(ctx, "/v1/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one conversation with full message history.
func (c *Client) Get(ctx context.Context, key string) (*api.ConversationDetail, error) {
	var out api.ConversationDetail
	if err := c.get(ctx, "/v1/conversations/"+url.PathEscape(key), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts an outbound message.
func (c *Client) Send(ctx context.Context, key, body string) (*api.SendResponse, error) {
	var out api.SendResponse
	resp, err := c.http.R().SetContext(ctx).
		SetBody(api.SendRequest{Body: body}).
		SetResult(&out).
		Post("/v1/conversations/" + url.PathEscape(key) + "/messages")
	if err := checkResp(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh triggers a fetch: one conversation, or the list when key is empty.
func (c *Client) Refresh(ctx context.Context, key string) error {
	path := "/v1/conversations/refresh"
	if key != "" {
		path = "/v1/conversations/" + url.PathEscape(key) + "/refresh"
	}
	resp, err := c.http.R().SetContext(ctx).Post(path)
	return checkResp(resp, err)
}

// MarkRead zeroes a conversation's unread count.
func (c *Client) MarkRead(ctx context.Context, key string) error {
	resp, err := c.http.R().SetContext(ctx).Post("/v1/conversations/" + url.PathEscape(key) + "/read")
	return checkResp(resp, err)
}

// Delete removes a conversation on the gateway and locally.
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/v1/conversations/" + url.PathEscape(key))
	return checkResp(resp, err)
}

// SaveContact creates a CRM contact for the endpoint.
func (c *Client) SaveContact(ctx context.Context, req api.ContactRequest) (*api.ContactResponse, error) {
	var out api.ContactResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/v1/contacts")
	if err := checkResp(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a full-text query over message history.
func (c *Client) Search(ctx context.Context, query, key string, limit int) ([]api.SearchHit, error) {
	req := c.http.R().SetContext(ctx).SetQueryParam("q", query)
	if key != "" {
		req.SetQueryParam("key", key)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	var out []api.SearchHit
	resp, err := req.SetResult(&out).Get("/v1/search")
	if err := checkResp(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchEvent is one event read off the daemon's stream.
type WatchEvent struct {
	Kind string
	Data json.RawMessage
}

// Watch streams daemon events until ctx is cancelled. Namespace scopes
// by kind prefix; empty means everything.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(WatchEvent)) error {
	url := "http://commsync/v1/events"
	if namespace != "" {
		url += "?namespace=" + namespace
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.raw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: unexpected status %d", resp.StatusCode)
	}

	var evt WatchEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			evt.Kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		case line == "" && evt.Kind != "":
			fn(evt)
			evt = WatchEvent{}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func checkResp(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		var apiErr struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode())
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}
