package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/internal/protocol"
)

// DefaultDialTimeout bounds connecting to the daemon socket.
const DefaultDialTimeout = 2 * time.Second

// Client speaks the control protocol over one connection. Calls on a Client
// are serialized; open several clients for parallel work.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
	defer cancel()
	return DialContext(ctx, path)
}

// DialContext connects to the daemon socket at path, honoring ctx.
func DialContext(ctx context.Context, path string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Send writes req as one line. A request without an id is given a fresh one
// so its responses can be matched.
func (c *Client) Send(req *protocol.Request) error {
	if req == nil {
		return errors.New("nil request")
	}
	if len(req.ID) == 0 {
		req.ID = protocol.StringID(uuid.NewString())
	}
	line, err := req.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(line); err != nil {
		return fmt.Errorf("send %s request: %w", req.Type, err)
	}
	return nil
}

// Receive reads the next response line, waiting no longer than ctx allows.
func (c *Client) Receive(ctx context.Context) (*protocol.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return protocol.DecodeResponse(line)
}

// Call sends req and returns the first response carrying its id.
func (c *Client) Call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Send(req); err != nil {
		return nil, err
	}
	for {
		resp, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if string(resp.ID) == string(req.ID) {
			return resp, nil
		}
	}
}

// Stream sends req and hands every response carrying its id to fn until fn
// reports done or ctx ends. Used by multi-response workflows such as link.
func (c *Client) Stream(ctx context.Context, req *protocol.Request, fn func(*protocol.Response) (done bool, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Send(req); err != nil {
		return err
	}
	for {
		resp, err := c.Receive(ctx)
		if err != nil {
			return err
		}
		if string(resp.ID) != string(req.ID) {
			continue
		}
		done, err := fn(resp)
		if err != nil || done {
			return err
		}
	}
}
