// Package rest is the client for the backend's REST endpoints.
//
// Calls are made once: a failed poll waits for the next interval and a
// failed action must be re-triggered by the operator, so no retry policy
// is configured. The pooled transport comes from go-retryablehttp.
package rest

import (
	"context"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/termgate/internal/domain/reconcile"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client talks to the backend REST API
type Client struct {
	resty  *resty.Client
	logger *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) { c.resty.SetHeader(key, value) }
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetRetryCount(0).
		SetHeader("User-Agent", "termgate/1.0").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.ConfigStd.Marshal).
		SetJSONUnmarshaler(sonic.ConfigStd.Unmarshal).
		SetTransport(retryClient.HTTPClient.Transport)

	c := &Client{resty: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tools fetches GET /api/tools
func (c *Client) Tools(ctx context.Context) ([]reconcile.Tool, error) {
	var out []reconcile.Tool
	return out, c.get(ctx, protocol.PathTools, &out)
}

// Categories fetches GET /api/categories
func (c *Client) Categories(ctx context.Context) ([]reconcile.Category, error) {
	var out []reconcile.Category
	return out, c.get(ctx, protocol.PathCategories, &out)
}

// Sessions fetches GET /api/sessions
func (c *Client) Sessions(ctx context.Context) ([]reconcile.Session, error) {
	var out []reconcile.Session
	return out, c.get(ctx, protocol.PathSessions, &out)
}

// ManageTool posts an action for tool. A non-2xx reply is returned as
// *errs.ActionError; network failures wrap errs.ErrTransport.
func (c *Client) ManageTool(ctx context.Context, tool string, action protocol.Action, sessionID string) (protocol.ToolActionResponse, error) {
	op := fmt.Sprintf("POST %s", strings.Replace(protocol.PathTool, "{name}", tool, 1))

	resp, err := c.resty.R().
		SetContext(ctx).
		SetPathParam("name", tool).
		SetHeader("Content-Type", "application/json").
		SetBody(protocol.ToolActionRequest{Action: action, SessionID: sessionID}).
		Post(protocol.PathTool)
	if err != nil {
		return protocol.ToolActionResponse{}, errs.Transport(op, err)
	}

	var out protocol.ToolActionResponse
	if len(resp.Body()) > 0 {
		if derr := sonic.ConfigStd.Unmarshal(resp.Body(), &out); derr != nil && !resp.IsError() {
			return protocol.ToolActionResponse{}, errs.Transport(op, fmt.Errorf("decode response: %w", derr))
		}
	}

	if resp.IsError() {
		body := out.Message
		if body == "" {
			body = strings.TrimSpace(resp.String())
		}
		return out, &errs.ActionError{
			Tool:   tool,
			Action: string(action),
			Status: resp.StatusCode(),
			Body:   body,
		}
	}

	c.logger.Debug("Tool action accepted",
		zap.String("tool", tool),
		zap.String("action", string(action)),
		zap.String("session_id", out.SessionID))
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	op := "GET " + path

	resp, err := c.resty.R().SetContext(ctx).Get(path)
	if err != nil {
		return errs.Transport(op, err)
	}
	if resp.IsError() {
		return errs.Transport(op, fmt.Errorf("status %d", resp.StatusCode()))
	}
	if err := sonic.ConfigStd.Unmarshal(resp.Body(), out); err != nil {
		return errs.Transport(op, fmt.Errorf("decode: %w", err))
	}
	return nil
}
