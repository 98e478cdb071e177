// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package marionette is a small client for the Marionette remote automation
// protocol, covering what is needed to drive the device data layer.
package marionette

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxPacket guards against a corrupt length prefix.
const maxPacket = 64 << 20

// Error is a failure reported by the remote end.
type Error struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "marionette: " + e.Code
	}
	return fmt.Sprintf("marionette: %s: %s", e.Code, e.Message)
}

// Client is one connection to a Marionette server. It is not safe for
// concurrent use.
type Client struct {
	conn     net.Conn
	r        *bufio.Reader
	nextID   int
	session  bool
	Protocol int
	App      string
}

// NotReadyError reports an endpoint that does not serve Marionette yet:
// nothing accepts the connection or it drops before the greeting. A port
// forwarded by adb behaves like this while the device process boots.
type NotReadyError struct {
	Address string
	Err     error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("marionette at %s not ready: %v", e.Address, e.Err)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// Dial connects to address (host:port) and reads the server greeting.
func Dial(ctx context.Context, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &NotReadyError{Address: address, Err: fmt.Errorf("connect: %w", err)}
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn)}
	applyDeadline(ctx, conn)

	raw, err := c.readPacket()
	if err != nil {
		conn.Close()
		return nil, &NotReadyError{Address: address, Err: fmt.Errorf("read greeting: %w", err)}
	}
	var hello struct {
		ApplicationType    string `json:"applicationType"`
		MarionetteProtocol int    `json:"marionetteProtocol"`
	}
	if err := json.Unmarshal(raw, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode greeting: %w", err)
	}
	if hello.MarionetteProtocol < 3 {
		conn.Close()
		return nil, fmt.Errorf("unsupported marionette protocol %d", hello.MarionetteProtocol)
	}
	c.Protocol = hello.MarionetteProtocol
	c.App = hello.ApplicationType
	return c, nil
}

func applyDeadline(ctx context.Context, conn net.Conn) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
}

func (c *Client) readPacket() ([]byte, error) {
	prefix, err := c.r.ReadString(':')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSuffix(prefix, ":"))
	if err != nil || n < 0 || n > maxPacket {
		return nil, fmt.Errorf("invalid packet length %q", prefix)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Client) writePacket(payload []byte) error {
	frame := append([]byte(strconv.Itoa(len(payload))+":"), payload...)
	_, err := c.conn.Write(frame)
	return err
}

// Send issues a command and returns the raw result.
func (c *Client) Send(ctx context.Context, name string, params any) (json.RawMessage, error) {
	applyDeadline(ctx, c.conn)
	c.nextID++
	id := c.nextID
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal([]any{0, id, name, params})
	if err != nil {
		return nil, err
	}
	if err := c.writePacket(payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", name, err)
	}
	for {
		raw, err := c.readPacket()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", name, err)
		}
		var msg []json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg) != 4 {
			return nil, fmt.Errorf("malformed %s response: %s", name, raw)
		}
		var kind, gotID int
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != 1 {
			continue
		}
		if err := json.Unmarshal(msg[1], &gotID); err != nil || gotID != id {
			continue
		}
		if string(msg[2]) != "null" {
			remote := &Error{}
			if err := json.Unmarshal(msg[2], remote); err != nil {
				return nil, fmt.Errorf("decode %s error: %w", name, err)
			}
			return nil, remote
		}
		return msg[3], nil
	}
}

func (c *Client) NewSession(ctx context.Context) error {
	if _, err := c.Send(ctx, "newSession", map[string]any{"capabilities": map[string]any{}}); err != nil {
		return err
	}
	c.session = true
	return nil
}

// SetContext switches between the "content" and "chrome" script contexts.
func (c *Client) SetContext(ctx context.Context, scope string) error {
	_, err := c.Send(ctx, "setContext", map[string]any{"value": scope})
	return err
}

// ExecuteAsyncScript runs script in a fresh sandbox. The script reports its
// result through marionetteScriptFinished.
func (c *Client) ExecuteAsyncScript(ctx context.Context, script string, args []any, timeout time.Duration) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := c.Send(ctx, "executeAsyncScript", map[string]any{
		"script":        script,
		"args":          args,
		"scriptTimeout": timeout.Milliseconds(),
		"newSandbox":    true,
	})
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return wrapped.Value, nil
}

// Close ends the session, if any, and closes the connection.
func (c *Client) Close() error {
	var errs []error
	if c.session {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := c.Send(ctx, "deleteSession", nil)
		cancel()
		c.session = false
		if err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}
