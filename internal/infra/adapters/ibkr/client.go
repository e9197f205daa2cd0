package ibkr

import (
	"context"
	"net/url"
	"time"
)

// Client is the surface the rest of the bot uses to talk to the broker.
type Client struct {
	conn *Connection
}

// Session is a point-in-time view of the connection, safe to publish.
type Session struct {
	Mode        Mode       `json:"mode"`
	State       string     `json:"state"`
	Connected   bool       `json:"connected"`
	Account     string     `json:"account,omitempty"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
}

// NewClient builds a client. Credentials are loaded and checked here.
func NewClient(opts Options) (*Client, error) {
	conn, err := NewConnection(opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Connect establishes the session within timeout.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	return c.conn.Connect(ctx, timeout)
}

// Disconnect tears the session down. It is safe to call repeatedly.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *Client) Account() (string, error) {
	return c.conn.Account()
}

// Request sends a signed request and returns the decoded JSON reply.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body any) (any, error) {
	return c.conn.Request(ctx, method, path, query, body)
}

// RequestInto sends a signed request and decodes the reply into out.
func (c *Client) RequestInto(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.conn.RequestInto(ctx, method, path, query, body, out)
}

func (c *Client) Status(ctx context.Context) (AuthStatus, error) {
	return c.conn.Status(ctx)
}

func (c *Client) AccountSummary(ctx context.Context) (AccountSummary, error) {
	return c.conn.AccountSummary(ctx)
}

// Session reports mode, state, account and token expiry. It never includes secrets.
func (c *Client) Session() Session {
	s := Session{
		Mode:      c.conn.Mode(),
		State:     c.conn.State().String(),
		Connected: c.conn.IsConnected(),
	}
	if s.Connected {
		s.Account, _ = c.conn.Account()
	}
	if exp, ok := c.conn.Auth().Expiration(); ok {
		exp = exp.UTC()
		s.TokenExpiry = &exp
	}
	return s
}
