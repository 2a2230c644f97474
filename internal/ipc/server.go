package ipc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"courier/internal/commands"
	"courier/internal/logging"
	"courier/internal/protocol"
)

// Handler executes one decoded request, writing its responses to w.
type Handler interface {
	Dispatch(ctx context.Context, req *protocol.Request, w commands.Replier) error
}

const (
	// MaxLineSize bounds one request line, newline included.
	MaxLineSize = 1 << 20
	// rawPreviewSize is how much of an oversized line is logged.
	rawPreviewSize = 256
)

// Server accepts control connections on a Unix domain socket.
type Server struct {
	path     string
	handler  Handler
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds the socket at path. A stale socket file is removed first.
func NewServer(ctx context.Context, path string, handler Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("ipc server requires a handler")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		handler:  handler,
		logger:   logger,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve starts accepting connections until Close is called or the context is
// canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.serveConn(c)
			}(conn)
		}
	}()
}

// Close stops accepting, cancels in-flight requests, closes every open
// connection and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun courier stop"))
	}
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	ctx := logging.WithConnectionID(s.ctx, uuid.NewString())
	logger := logging.WithContext(ctx, s.logger)
	logger.Debug("client connected", logging.String(logging.FieldEventType, "ipc_connected"))
	defer logger.Debug("client disconnected", logging.String(logging.FieldEventType, "ipc_disconnected"))

	encoder := protocol.NewEncoder(conn)
	replier := commands.ReplierFunc(encoder.Encode)
	reader := bufio.NewReader(conn)
	for {
		line, oversized, readErr := readLine(reader, MaxLineSize)
		switch {
		case oversized:
			logger.Error("request line too long",
				logging.Int("limit_bytes", MaxLineSize),
				logging.String(logging.FieldRawLine, string(line[:min(len(line), rawPreviewSize)])),
				logging.String(logging.FieldEventType, "request_too_long"),
				logging.String(logging.FieldImpact, "request ignored without a reply"))
		case len(bytes.TrimSpace(line)) > 0:
			if !s.handleLine(ctx, logger, line, replier) {
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) && ctx.Err() == nil {
				logger.Warn("connection read failed",
					logging.Error(readErr),
					logging.String(logging.FieldEventType, "ipc_read_failed"),
					logging.String(logging.FieldImpact, "client session ended"))
			}
			return
		}
	}
}

// readLine reads through the next newline but keeps at most limit bytes. A
// longer line is consumed to its end and reported as oversized, so memory per
// connection stays bounded and the next line starts cleanly.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > limit {
				oversized = true
				line = append(line, chunk[:limit-len(line)]...)
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, oversized, err
	}
}

// handleLine decodes and dispatches one line. It reports false when the
// connection can no longer be written to.
func (s *Server) handleLine(ctx context.Context, logger *slog.Logger, line []byte, w commands.Replier) bool {
	raw := string(bytes.TrimRight(line, "\r\n"))
	req, err := protocol.Decode(line)
	if err != nil {
		logger.Error("request decode failed",
			logging.Error(err),
			logging.String(logging.FieldRawLine, raw),
			logging.String(logging.FieldEventType, "request_decode_failed"),
			logging.String(logging.FieldImpact, "request ignored without a reply"))
		return true
	}

	err = s.handler.Dispatch(ctx, req, w)
	switch {
	case err == nil:
		return true
	case errors.Is(err, commands.ErrReply):
		logger.Warn("reply write failed",
			logging.Error(err),
			logging.String(logging.FieldRawLine, raw),
			logging.String(logging.FieldEventType, "ipc_write_failed"),
			logging.String(logging.FieldImpact, "client session ended"))
		return false
	default:
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			logging.Error(err),
			logging.String(logging.FieldRawLine, raw),
			logging.String(logging.FieldRequestType, req.Type),
			logging.String(logging.FieldRequestID, req.IDString()),
		)
		return true
	}
}
