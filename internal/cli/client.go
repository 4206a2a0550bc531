package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/swarm/pkg/api"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
)

const requestTimeout = 10 * time.Second

// apiClient talks to a running swarm server
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

func (c *apiClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Debug fetches the buffer for sessionID, or the idle shape
func (c *apiClient) Debug(ctx context.Context, sessionID string) (buffer.Buffer, error) {
	var buf buffer.Buffer
	err := c.getJSON(ctx, "/api/debug/swarm?session_id="+url.QueryEscape(sessionID), &buf)
	return buf, err
}

// Tools lists the registered capability descriptors
func (c *apiClient) Tools(ctx context.Context) ([]capability.Descriptor, error) {
	var res struct {
		Tools []capability.Descriptor `json:"tools"`
	}
	err := c.getJSON(ctx, "/api/swarm/tools", &res)
	return res.Tools, err
}

// streamURL returns the WebSocket URL of a session stream
func (c *apiClient) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/swarm/" + url.PathEscape(sessionID) + "/stream"
	return u.String(), nil
}
