package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends requests to a backend, one connection per call.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for addr. timeout bounds each call.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Call sends req and decodes the reply into resp.
func (c *Client) Call(ctx context.Context, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	reply, err := c.CallRaw(ctx, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// CallRaw sends a raw payload and returns the raw reply.
func (c *Client) CallRaw(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := WriteMessage(conn, payload); err != nil {
		return nil, err
	}
	return ReadMessage(bufio.NewReader(conn))
}
