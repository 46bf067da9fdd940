// Package service implements the remote session-based tier: a JSON
// request/response protocol where an initialize call yields a session
// token consumed by subsequent search/get/create operations.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

// Client is the remote service tier.
//
// The session token is cached process-wide with last-write-wins
// semantics. A call that fails with a cached token drops the token and
// reports ordinary backend failure; the handshake is NOT retried
// inline — it happens lazily on the next top-level call that reaches
// this tier.
type Client struct {
	cfg     config.ServiceConfig
	client  *http.Client
	logger  *zap.Logger
	enabled bool

	mu      sync.Mutex
	session string
}

// New builds the client. The tier is enabled iff a base URL is
// configured; a disabled client answers every call with
// BACKEND_UNAVAILABLE without touching the network.
func New(cfg config.ServiceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:     cfg,
		client:  &http.Client{},
		logger:  logger.With(zap.String("backend", backend.NameService)),
		enabled: cfg.URL != "",
	}
}

// Name implements backend.Backend.
func (c *Client) Name() string { return backend.NameService }

// Enabled implements backend.Backend.
func (c *Client) Enabled() bool { return c.enabled }

type initializeRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

type initializeResponse struct {
	SessionID string `json:"session_id"`
}

type searchRequest struct {
	SessionID     string             `json:"session_id"`
	Types         []types.MemoryType `json:"types,omitempty"`
	MinImportance float64            `json:"min_importance,omitempty"`
	MaxImportance float64            `json:"max_importance,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	Since         *time.Time         `json:"since,omitempty"`
	Until         *time.Time         `json:"until,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

type searchResponse struct {
	Memories []types.Memory `json:"memories"`
}

type getRequest struct {
	SessionID string `json:"session_id"`
	ID        string `json:"id"`
}

type getResponse struct {
	Memory *types.Memory `json:"memory"`
}

type createRequest struct {
	SessionID string       `json:"session_id"`
	Memory    types.Memory `json:"memory"`
}

type createResponse struct {
	ID string `json:"id"`
}

// session returns the cached token, performing the handshake when none
// is cached yet.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.session
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var out initializeResponse
	if err := c.post(ctx, "/v1/initialize", initializeRequest{APIKey: c.cfg.APIKey}, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", types.NewError(types.ErrCodeProtocol, "initialize returned no session id").
			WithBackend(c.Name())
	}

	c.mu.Lock()
	c.session = out.SessionID
	c.mu.Unlock()

	c.logger.Debug("session established")
	return out.SessionID, nil
}

// dropSession discards the cached token so the next top-level call
// re-handshakes.
func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// Load implements backend.Backend via the search operation.
func (c *Client) Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	if !c.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "service backend not configured")
	}
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	req := searchRequest{
		SessionID:     session,
		Types:         f.Types,
		MinImportance: f.MinImportance,
		MaxImportance: f.MaxImportance,
		Tags:          f.Tags,
		Limit:         f.Limit,
	}
	if !f.Since.IsZero() {
		req.Since = &f.Since
	}
	if !f.Until.IsZero() {
		req.Until = &f.Until
	}

	var out searchResponse
	if err := c.post(ctx, "/v1/memories/search", req, &out); err != nil {
		c.dropSession()
		return nil, err
	}

	// Normalize at the boundary; quarantine anything malformed.
	memories := make([]types.Memory, 0, len(out.Memories))
	for _, m := range out.Memories {
		m.Normalize()
		if err := m.Validate(); err != nil {
			c.logger.Warn("dropping malformed remote record",
				zap.String("id", m.ID), zap.Error(err))
			continue
		}
		memories = append(memories, m)
	}
	return f.Apply(memories), nil
}

// Get implements backend.Backend.
func (c *Client) Get(ctx context.Context, id string) (*types.Memory, error) {
	if !c.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "service backend not configured")
	}
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var out getResponse
	if err := c.post(ctx, "/v1/memories/get", getRequest{SessionID: session, ID: id}, &out); err != nil {
		if types.IsNotFound(err) {
			return nil, err
		}
		c.dropSession()
		return nil, err
	}
	if out.Memory == nil {
		return nil, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("no record %s", id)).WithBackend(c.Name())
	}

	m := *out.Memory
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "remote record malformed").
			WithBackend(c.Name()).WithCause(err)
	}
	return &m, nil
}

// Save implements backend.Backend via the create operation.
func (c *Client) Save(ctx context.Context, m types.Memory) (string, error) {
	if !c.enabled {
		return "", types.NewError(types.ErrCodeUnavailable, "service backend not configured")
	}
	m.Normalize()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	session, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	var out createResponse
	if err := c.post(ctx, "/v1/memories", createRequest{SessionID: session, Memory: m}, &out); err != nil {
		c.dropSession()
		return "", err
	}
	if out.ID == "" {
		return "", types.NewError(types.ErrCodeProtocol, "create returned no id").
			WithBackend(c.Name())
	}
	return out.ID, nil
}

// Probe implements backend.Backend with a minimal ping request. The
// mesh bounds it with the short probe timeout, distinct from the data
// timeout used by Load/Get/Save.
func (c *Client) Probe(ctx context.Context) error {
	if !c.enabled {
		return types.NewError(types.ErrCodeUnavailable, "service backend not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/v1/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.mapTransportErr("probe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrCodeProtocol,
			fmt.Sprintf("ping returned status %d", resp.StatusCode)).WithBackend(c.Name())
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.mapTransportErr(path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewError(types.ErrCodeNotFound, "not found").WithBackend(c.Name())
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewError(types.ErrCodeProtocol,
			fmt.Sprintf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithBackend(c.Name())
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrCodeProtocol, "failed to decode response").
			WithBackend(c.Name()).WithCause(err)
	}
	return nil
}

func (c *Client) mapTransportErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCodeTimeout,
			fmt.Sprintf("%s timed out", op)).WithBackend(c.Name()).WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrCodeProtocol,
		fmt.Sprintf("%s transport failure", op)).WithBackend(c.Name()).WithCause(err).WithRetryable(true)
}
