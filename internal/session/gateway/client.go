// Package gateway implements the session registry against the LLM gateway's
// websocket RPC endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gocache "github.com/patrickmn/go-cache"

	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/session"
)

const (
	defaultCallTimeout = 15 * time.Second

	// recentKeyTTL bounds the recently-used fallback view. Keys older than
	// this are too stale to stand in for an authoritative enumeration.
	recentKeyTTL = 10 * time.Minute
)

// Config holds gateway connection settings.
type Config struct {
	URL   string `yaml:"url"`   // ws:// or wss:// endpoint
	Token string `yaml:"token"` // optional bearer token
}

// Client talks JSON frames over a single websocket connection. Calls are
// serialized; the gateway answers each request frame with a response frame
// carrying the same id.
type Client struct {
	cfg Config
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	// recent is the recently-used key view: refreshed by every successful
	// call that names a session, served only when enumeration fails.
	recent *gocache.Cache
}

// New creates a gateway client. The connection is dialed lazily.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		log:    logging.WithComponent("gateway"),
		recent: gocache.New(recentKeyTTL, recentKeyTTL),
	}
}

type request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
	Token  string         `json:"token,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// call performs one request/response exchange under the client mutex.
func (c *Client) call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	req := request{ID: uuid.NewString(), Method: method, Params: params, Token: c.cfg.Token}
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		c.drop()
		return nil, fmt.Errorf("gateway write %s: %w", method, err)
	}

	// Calls are serialized, so frames arrive in order; still skip any frame
	// with a stale id left over from a timed-out predecessor.
	for {
		_ = conn.SetReadDeadline(deadline)
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			c.drop()
			return nil, fmt.Errorf("gateway read %s: %w", method, err)
		}
		if resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			return nil, fmt.Errorf("gateway %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	}
}

// EnsureSession creates or patches a session.
func (c *Client) EnsureSession(ctx context.Context, key, model, label string, timeout time.Duration) error {
	_, err := c.call(ctx, "sessions.ensure", map[string]any{
		"key":   key,
		"model": model,
		"label": label,
	}, timeout)
	if err == nil {
		c.recent.SetDefault(key, struct{}{})
	}
	return err
}

// SendToSession delivers a task brief to a session.
func (c *Client) SendToSession(ctx context.Context, key, message string, opts session.SendOptions) error {
	params := map[string]any{
		"key":     key,
		"message": message,
	}
	if opts.Model != "" {
		params["model"] = opts.Model
	}
	if opts.ExtraSystemPrompt != "" {
		params["extraSystemPrompt"] = opts.ExtraSystemPrompt
	}
	if opts.OrchestratorKey != "" {
		params["orchestratorKey"] = opts.OrchestratorKey
	}
	_, err := c.call(ctx, "sessions.send", params, opts.Timeout)
	if err == nil {
		c.recent.SetDefault(key, struct{}{})
	}
	return err
}

// DeleteSession removes a session. Best-effort.
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	_, err := c.call(ctx, "sessions.delete", map[string]any{"key": key}, 0)
	c.recent.Delete(key)
	return err
}

// ListLiveSessionKeys enumerates live keys from the gateway. When the
// gateway is unreachable it falls back to the recently-used view; when that
// is empty too it returns nil, meaning unknown. Silence is never death.
func (c *Client) ListLiveSessionKeys(ctx context.Context) (session.LiveKeys, error) {
	raw, err := c.call(ctx, "sessions.list", nil, 0)
	if err != nil {
		keys := c.recentKeys()
		if keys == nil {
			c.log.Warn("session enumeration failed and no recent view available", "error", err)
			return nil, nil
		}
		c.log.Warn("session enumeration failed, serving recently-used view", "keys", len(keys), "error", err)
		return keys, nil
	}

	var listed struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("gateway sessions.list result: %w", err)
	}
	live := make(session.LiveKeys, len(listed.Keys))
	for _, k := range listed.Keys {
		live[k] = struct{}{}
		c.recent.SetDefault(k, struct{}{})
	}
	return live, nil
}

func (c *Client) recentKeys() session.LiveKeys {
	items := c.recent.Items()
	if len(items) == 0 {
		return nil
	}
	keys := make(session.LiveKeys, len(items))
	for k := range items {
		keys[k] = struct{}{}
	}
	return keys
}

// SessionContextUsage reports the fraction of a session's context window
// already consumed, 0..1. Used by dispatch to decide whether a session is
// worth resuming for a new issue.
func (c *Client) SessionContextUsage(ctx context.Context, key string) (float64, error) {
	raw, err := c.call(ctx, "sessions.usage", map[string]any{"key": key}, 0)
	if err != nil {
		return 0, err
	}
	var usage struct {
		Used float64 `json:"used"`
	}
	if err := json.Unmarshal(raw, &usage); err != nil {
		return 0, fmt.Errorf("gateway sessions.usage result: %w", err)
	}
	return usage.Used, nil
}

// Close tears down the websocket connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
}

var _ session.Registry = (*Client)(nil)
