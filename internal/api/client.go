package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benaskins/keyitems/internal/keychain"
)

// Client talks to a running keyitems daemon.
type Client struct {
	base string
	http *http.Client
}

// NewUnixClient returns a client that dials the daemon's Unix socket.
func NewUnixClient(socketPath string) *Client {
	return &Client{
		base: "http://keyitems",
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// NewClient returns a client for a daemon at baseURL (e.g. http://127.0.0.1:9090).
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is keyitems serve running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Error is a non-2xx response from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

// Health checks that the daemon is answering.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// Keys lists the daemon's keys.
func (c *Client) Keys(ctx context.Context) (*KeyList, error) {
	var kl KeyList
	if err := c.do(ctx, http.MethodGet, "/v1/keys", nil, &kl); err != nil {
		return nil, err
	}
	return &kl, nil
}

// Get fetches one entry. The boolean is false when the daemon reports 404.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e Entry
	err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(key), nil, &e)
	if apiErr, ok := err.(*Error); ok && apiErr.Status == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// Set stores value under key; an empty value deletes the entry.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	return c.do(ctx, http.MethodPut, "/v1/keys/"+url.PathEscape(key), strings.NewReader(string(value)), nil)
}

// Changes returns up to limit recent changes recorded by the daemon, oldest
// first. A negative limit returns everything it holds.
func (c *Client) Changes(ctx context.Context, limit int) ([]Event, error) {
	path := "/v1/changes"
	if limit >= 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var events []Event
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Events streams key-set changes to fn until ctx is cancelled or the
// connection drops.
func (c *Client) Events(ctx context.Context, fn func(keychain.Change)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is keyitems serve running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var change keychain.Change
		if err := json.Unmarshal([]byte(data), &change); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		fn(change)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
