package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"courier/internal/account"
	"courier/internal/history"
	"courier/internal/logging"
	"courier/internal/protocol"
)

// Replier writes response envelopes to the requesting connection.
type Replier interface {
	Reply(resp protocol.Response) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(resp protocol.Response) error

// Reply calls f(resp).
func (f ReplierFunc) Reply(resp protocol.Response) error { return f(resp) }

// Registry is the shared account registry as seen by workflows.
type Registry interface {
	Get(username string) (account.Session, error)
	GetOrCreate(username string) (account.Session, error)
	List() []account.Session
}

// SessionFactory builds a fresh, unkeyed session for device linking.
type SessionFactory func() (account.Session, error)

// Recorder journals workflow outcomes.
type Recorder interface {
	Record(ctx context.Context, event history.Event) (history.Event, error)
}

// StatusFunc reports daemon status for daemon_status requests.
type StatusFunc func(ctx context.Context) any

// Options configures a Dispatcher.
type Options struct {
	Registry    Registry
	LinkSession SessionFactory
	DeviceName  string
	History     Recorder
	Status      StatusFunc
	Logger      *slog.Logger
}

type handlerFunc func(ctx context.Context, req *protocol.Request, w Replier) (string, error)

// Dispatcher routes decoded requests to workflows.
type Dispatcher struct {
	registry    Registry
	linkSession SessionFactory
	deviceName  string
	history     Recorder
	status      StatusFunc
	logger      *slog.Logger
	handlers    map[string]handlerFunc
	journaled   map[string]bool
}

// NewDispatcher validates opts and returns a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatcher requires a registry")
	}
	if opts.LinkSession == nil {
		return nil, errors.New("dispatcher requires a link session factory")
	}
	d := &Dispatcher{
		registry:    opts.Registry,
		linkSession: opts.LinkSession,
		deviceName:  opts.DeviceName,
		history:     opts.History,
		status:      opts.Status,
		logger:      logging.NewComponentLogger(opts.Logger, "commands"),
	}
	d.handlers = map[string]handlerFunc{
		protocol.TypeListAccounts: d.listAccounts,
		protocol.TypeSend:         d.send,
		protocol.TypeRegister:     d.register,
		protocol.TypeVerify:       d.verify,
		protocol.TypeLink:         d.link,
		protocol.TypeAddDevice:    d.addDevice,
		protocol.TypeDaemonStatus: d.daemonStatus,
	}
	d.journaled = map[string]bool{
		protocol.TypeSend:      true,
		protocol.TypeRegister:  true,
		protocol.TypeVerify:    true,
		protocol.TypeLink:      true,
		protocol.TypeAddDevice: true,
	}
	return d, nil
}

// Dispatch runs the workflow for req and writes its responses to w.
//
// A workflow failure is reported to the client and returned so the caller can
// log it alongside the raw request. An error wrapping ErrReply means the
// connection could not be written to.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request, w Replier) error {
	ctx = logging.WithRequest(ctx, req.IDString(), req.Type)
	logger := logging.WithContext(ctx, d.logger)

	handler, ok := d.handlers[req.Type]
	if !ok {
		logger.Warn("unsupported command",
			logging.String(logging.FieldEventType, "unsupported_command"),
		)
		resp := protocol.Failure(req, protocol.TypeUnsupportedCommand, protocol.CodeUnsupportedCommand,
			fmt.Sprintf("unsupported command type %q", req.Type))
		if err := w.Reply(resp); err != nil {
			return fmt.Errorf("%w: %w", ErrReply, err)
		}
		return nil
	}

	started := time.Now()
	replies := &trackingReplier{next: w}
	// The success row must be visible before the client sees the final envelope.
	replies.beforeFinal = func(resp protocol.Response) {
		d.record(ctx, req, replyAccount(req, resp), history.OutcomeSucceeded, 0, "")
	}
	username, err := d.invoke(ctx, handler, req, replies)
	if replies.err != nil {
		return fmt.Errorf("%w: %w", ErrReply, replies.err)
	}
	if username == "" {
		username = req.Username
	}
	if err == nil {
		logger.Debug("request completed",
			logging.String(logging.FieldEventType, "request_completed"),
			logging.Duration("duration", time.Since(started)),
		)
		if !replies.final {
			d.record(ctx, req, username, history.OutcomeSucceeded, 0, "")
		}
		return nil
	}

	failure := asFailure(err)
	outcome := history.OutcomeFailed
	if failure.Code == protocol.CodePreconditionFailed || failure.Code == protocol.CodeAccountNotFound {
		outcome = history.OutcomeRejected
	}
	d.record(ctx, req, username, outcome, failure.Code, failure.Error())
	if werr := replies.Reply(failure.Response(req)); werr != nil {
		return fmt.Errorf("%w: %w", ErrReply, werr)
	}
	return failure
}

// ErrReply marks a failure to write to the requesting connection.
var ErrReply = errors.New("write reply")

func (d *Dispatcher) invoke(ctx context.Context, handler handlerFunc, req *protocol.Request, w Replier) (username string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{
				Type:    protocol.TypeError,
				Code:    protocol.CodeRequestFailed,
				Message: protocol.MessageInternalFailure,
				Err:     fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	return handler(ctx, req, w)
}

func (d *Dispatcher) record(ctx context.Context, req *protocol.Request, username string, outcome history.Outcome, code int, detail string) {
	if d.history == nil || !d.journaled[req.Type] {
		return
	}
	connID, _ := logging.ConnectionIDFromContext(ctx)
	event := history.Event{
		Account:      username,
		Kind:         req.Type,
		Outcome:      outcome,
		Code:         code,
		Detail:       detail,
		ConnectionID: connID,
	}
	if _, err := d.history.Record(context.WithoutCancel(ctx), event); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "history record failed", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
			logging.String(logging.FieldImpact, "workflow outcome is missing from history"),
		)
	}
}

// replyAccount names the account a success envelope is about. Link requests
// carry no username, so the summary in the reply is authoritative.
func replyAccount(req *protocol.Request, resp protocol.Response) string {
	switch data := resp.Data.(type) {
	case account.Summary:
		return data.Username
	case protocol.MessageSent:
		return data.Username
	}
	if key, err := account.ValidateUsername(req.Username); err == nil {
		return key
	}
	return req.Username
}

// trackingReplier remembers the first transport error so a failed write is
// never followed by another envelope on a dead connection. beforeFinal runs
// once, ahead of the first terminal success envelope.
type trackingReplier struct {
	next        Replier
	err         error
	beforeFinal func(protocol.Response)
	final       bool
}

func (t *trackingReplier) Reply(resp protocol.Response) error {
	if t.err != nil {
		return t.err
	}
	if !t.final && isTerminalSuccess(resp) {
		t.final = true
		if t.beforeFinal != nil {
			t.beforeFinal(resp)
		}
	}
	if err := t.next.Reply(resp); err != nil {
		t.err = err
		return err
	}
	return nil
}

func isTerminalSuccess(resp protocol.Response) bool {
	return resp.Type != protocol.TypeLinkingURI && !resp.IsFailure()
}
