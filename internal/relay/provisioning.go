package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"courier/internal/account"
	"courier/internal/logging"
)

const (
	provisioningPath      = "/v1/websocket/provisioning/"
	frameAddress          = "address"
	frameEnvelope         = "envelope"
	provisioningReadLimit = 64 << 10
	closeWriteWait        = time.Second
)

type provisioningFrame struct {
	Type string `json:"type"`
	UUID string `json:"uuid,omitempty"`
	Body []byte `json:"body,omitempty"`
}

type provisioningChannel struct {
	conn      *websocket.Conn
	uuid      string
	closeOnce sync.Once
	closeErr  error
}

// OpenProvisioning dials the provisioning websocket and waits for the
// service to announce the channel address.
func (c *Client) OpenProvisioning(ctx context.Context) (account.ProvisioningChannel, error) {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + provisioningPath

	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.http.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Op: "open provisioning", StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("open provisioning: %w", err)
	}
	conn.SetReadLimit(provisioningReadLimit)

	channel := &provisioningChannel{conn: conn}
	frame, err := channel.next(ctx)
	if err != nil {
		_ = channel.Close()
		return nil, fmt.Errorf("read provisioning address: %w", err)
	}
	if frame.Type != frameAddress || frame.UUID == "" {
		_ = channel.Close()
		return nil, fmt.Errorf("read provisioning address: unexpected %q frame", frame.Type)
	}
	channel.uuid = frame.UUID
	c.logger.Debug("provisioning channel open",
		logging.String("uuid", channel.uuid),
		logging.String(logging.FieldEventType, "provisioning_open"),
	)
	return channel, nil
}

func (p *provisioningChannel) UUID() string { return p.uuid }

// Await blocks until the sealed provision message arrives or ctx ends.
func (p *provisioningChannel) Await(ctx context.Context) ([]byte, error) {
	for {
		frame, err := p.next(ctx)
		if err != nil {
			return nil, err
		}
		if frame.Type == frameEnvelope {
			if len(frame.Body) == 0 {
				return nil, errors.New("provisioning envelope has no body")
			}
			return frame.Body, nil
		}
	}
}

// next reads one frame, honouring ctx cancellation and deadline.
func (p *provisioningChannel) next(ctx context.Context) (provisioningFrame, error) {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = p.conn.SetReadDeadline(deadline)
	} else {
		_ = p.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var frame provisioningFrame
	if err := p.conn.ReadJSON(&frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provisioningFrame{}, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return provisioningFrame{}, context.DeadlineExceeded
		}
		return provisioningFrame{}, fmt.Errorf("read provisioning frame: %w", err)
	}
	return frame, nil
}

func (p *provisioningChannel) Close() error {
	p.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
