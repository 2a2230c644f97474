package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/account"
	"courier/internal/commands"
	"courier/internal/history"
	"courier/internal/protocol"
	"courier/internal/registry"
)

const (
	alice = "+15555550100"
	bob   = "+15555550111"
)

type harness struct {
	t          *testing.T
	dispatcher *commands.Dispatcher
	registry   *registry.Registry
	history    *memoryHistory

	mu       sync.Mutex
	preset   map[string]*fakeSession
	created  int
	linkNext *fakeSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, history: &memoryHistory{}, preset: map[string]*fakeSession{}}
	reg, err := registry.New(t.TempDir(), func(_ string, username string) (account.Session, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.created++
		if session, ok := h.preset[username]; ok {
			return session, nil
		}
		return &fakeSession{username: username}, nil
	}, nil)
	require.NoError(t, err)
	h.registry = reg

	dispatcher, err := commands.NewDispatcher(commands.Options{
		Registry: reg,
		LinkSession: func() (account.Session, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.linkNext == nil {
				return nil, errors.New("no link session configured")
			}
			return h.linkNext, nil
		},
		DeviceName: "courier test",
		History:    h.history,
	})
	require.NoError(t, err)
	h.dispatcher = dispatcher
	return h
}

func (h *harness) preload(session *fakeSession) *fakeSession {
	h.mu.Lock()
	h.preset[session.username] = session
	h.mu.Unlock()
	_, err := h.registry.GetOrCreate(session.username)
	require.NoError(h.t, err)
	return session
}

func (h *harness) run(req *protocol.Request) (*recorder, error) {
	w := &recorder{}
	err := h.dispatcher.Dispatch(context.Background(), req, w)
	return w, err
}

func status(t *testing.T, resp protocol.Response) protocol.Status {
	t.Helper()
	s, ok := resp.Data.(protocol.Status)
	require.True(t, ok, "payload %T is not a status", resp.Data)
	return s
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	_, err := commands.NewDispatcher(commands.Options{})
	assert.Error(t, err)
}

func TestListAccountsEmpty(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: protocol.TypeListAccounts, ID: protocol.StringID("1")})
	require.NoError(t, err)

	require.Len(t, w.all(), 1)
	line, err := protocol.MarshalResponse(w.last())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"account_list","data":[],"id":"1"}`+"\n", string(line))
}

func TestListAccountsReturnsSummaries(t *testing.T) {
	h := newHarness(t)
	h.preload(&fakeSession{username: bob, identity: true, registered: true})
	h.preload(&fakeSession{username: alice, identity: true})

	w, err := h.run(&protocol.Request{Type: protocol.TypeListAccounts})
	require.NoError(t, err)
	summaries, ok := w.last().Data.([]account.Summary)
	require.True(t, ok)
	require.Len(t, summaries, 2)
	assert.Equal(t, alice, summaries[0].Username)
	assert.Equal(t, bob, summaries[1].Username)
	assert.Empty(t, h.history.Events(), "read-only requests are not journaled")
}

func TestUnsupportedCommandEchoesID(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: "reboot", ID: []byte(`7`)})
	require.NoError(t, err)

	resp := w.last()
	assert.Equal(t, protocol.TypeUnsupportedCommand, resp.Type)
	assert.JSONEq(t, `7`, string(resp.ID))
	s := status(t, resp)
	assert.Equal(t, protocol.CodeUnsupportedCommand, s.Code)
	assert.True(t, s.Error)
}

func TestRegisterCreatesIdentityFirst(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: protocol.TypeRegister, Username: alice, ID: protocol.StringID("r1")})
	require.NoError(t, err)

	session, err := h.registry.Get(alice)
	require.NoError(t, err)
	fake := session.(*fakeSession)
	assert.Equal(t, []string{"CreateIdentity", "Register"}, fake.Calls())
	assert.False(t, fake.lastVoice, "voice defaults to false")

	resp := w.last()
	assert.Equal(t, protocol.TypeVerificationRequired, resp.Type)
	summary := resp.Data.(account.Summary)
	assert.Equal(t, alice, summary.Username)
	assert.True(t, summary.HasKeys)

	events := h.history.Events()
	require.Len(t, events, 1)
	assert.Equal(t, history.OutcomeSucceeded, events[0].Outcome)
	assert.Equal(t, alice, events[0].Account)
}

func TestRegisterSkipsIdentityWhenPresent(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true})
	voice := true
	_, err := h.run(&protocol.Request{Type: protocol.TypeRegister, Username: alice, Voice: &voice})
	require.NoError(t, err)
	assert.Equal(t, []string{"Register"}, fake.Calls())
	assert.True(t, fake.lastVoice)
}

func TestRegisterServiceFailure(t *testing.T) {
	h := newHarness(t)
	h.preload(&fakeSession{username: alice, registerErr: errors.New("rate limited")})
	w, err := h.run(&protocol.Request{Type: protocol.TypeRegister, Username: alice})
	require.Error(t, err)

	resp := w.last()
	assert.Equal(t, protocol.TypeError, resp.Type)
	s := status(t, resp)
	assert.Equal(t, protocol.CodeRequestFailed, s.Code)
	assert.Contains(t, s.Message, "rate limited")

	events := h.history.Events()
	require.Len(t, events, 1)
	assert.Equal(t, history.OutcomeFailed, events[0].Outcome)
}

func TestRegisterInvalidUsername(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: protocol.TypeRegister, Username: "bob"})
	require.Error(t, err)
	assert.ErrorIs(t, err, account.ErrInvalidUsername)
	assert.Equal(t, protocol.CodeRequestFailed, status(t, w.last()).Code)
}

func TestConcurrentRegisterSharesOneSession(t *testing.T) {
	h := newHarness(t)
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.run(&protocol.Request{Type: protocol.TypeRegister, Username: alice})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h.mu.Lock()
	created := h.created
	h.mu.Unlock()
	assert.Equal(t, 1, created)
	assert.Len(t, h.registry.List(), 1)
}

func TestVerifyBeforeRegisterShortCircuits(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: protocol.TypeVerify, Username: alice, Code: "123-456"})
	require.Error(t, err)

	s := status(t, w.last())
	assert.Equal(t, protocol.CodePreconditionFailed, s.Code)
	assert.Equal(t, protocol.MessageMustRegister, s.Message)

	session, err := h.registry.Get(alice)
	require.NoError(t, err)
	assert.Empty(t, session.(*fakeSession).Calls())

	events := h.history.Events()
	require.Len(t, events, 1)
	assert.Equal(t, history.OutcomeRejected, events[0].Outcome)
}

func TestVerifyAlreadyVerified(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true, registered: true})
	w, err := h.run(&protocol.Request{Type: protocol.TypeVerify, Username: alice, Code: "123456"})
	require.Error(t, err)
	assert.Equal(t, protocol.MessageAlreadyVerified, status(t, w.last()).Message)
	assert.Empty(t, fake.Calls())
}

func TestVerifySucceeds(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true})
	w, err := h.run(&protocol.Request{Type: protocol.TypeVerify, Username: alice, Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Verify"}, fake.Calls())
	resp := w.last()
	assert.Equal(t, protocol.TypeVerificationSucceeded, resp.Type)
	assert.True(t, resp.Data.(account.Summary).Registered)
}

func TestSendRequiresExistingSession(t *testing.T) {
	h := newHarness(t)
	w, err := h.run(&protocol.Request{Type: protocol.TypeSend, Username: alice, RecipientNumber: bob, MessageBody: "hi"})
	require.Error(t, err)
	assert.Equal(t, protocol.CodeAccountNotFound, status(t, w.last()).Code)
	assert.Empty(t, h.registry.List(), "send must not create sessions")
}

func TestSendReportsTimestamp(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true, registered: true, sentAt: 1700000000123})
	w, err := h.run(&protocol.Request{Type: protocol.TypeSend, Username: alice, RecipientNumber: bob, MessageBody: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Send"}, fake.Calls())
	assert.Equal(t, protocol.MessageSent{Username: alice, Recipient: bob, Timestamp: 1700000000123}, w.last().Data)
}

func TestSendFailure(t *testing.T) {
	h := newHarness(t)
	h.preload(&fakeSession{username: alice, identity: true, registered: true, sendErr: &account.AttachmentError{Path: "/nope", Err: errors.New("missing")}})
	w, err := h.run(&protocol.Request{Type: protocol.TypeSend, Username: alice, RecipientNumber: bob, AttachmentFilenames: []string{"/nope"}})
	require.Error(t, err)
	s := status(t, w.last())
	assert.Equal(t, protocol.CodeRequestFailed, s.Code)
	assert.Contains(t, s.Message, "/nope")
}

func TestAddDeviceSucceeds(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true, registered: true})
	target := account.DeviceLink{UUID: "0d5a3f4e-2b51-4c1a-8d77-3e0b3c0f9a10"}
	target.PublicKey[0] = 9

	w, err := h.run(&protocol.Request{Type: protocol.TypeAddDevice, Username: alice, URI: target.URI(), ID: protocol.StringID("a")})
	require.NoError(t, err)
	assert.Equal(t, target, fake.lastTarget)

	line, err := protocol.MarshalResponse(w.last())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"device_added","data":{"code":4,"message":"Successfully linked device","error":false},"id":"a"}`, string(line))
}

func TestAddDeviceMalformedURI(t *testing.T) {
	h := newHarness(t)
	fake := h.preload(&fakeSession{username: alice, identity: true, registered: true})
	w, err := h.run(&protocol.Request{Type: protocol.TypeAddDevice, Username: alice, URI: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, protocol.CodeRequestFailed, status(t, w.last()).Code)
	assert.Empty(t, fake.Calls())
}

func TestAddDeviceRequiresRegistration(t *testing.T) {
	h := newHarness(t)
	target := account.DeviceLink{UUID: "0d5a3f4e-2b51-4c1a-8d77-3e0b3c0f9a10"}
	h.preload(&fakeSession{username: alice, addErr: account.ErrNotRegistered})
	w, err := h.run(&protocol.Request{Type: protocol.TypeAddDevice, Username: alice, URI: target.URI()})
	require.Error(t, err)
	assert.Equal(t, protocol.CodePreconditionFailed, status(t, w.last()).Code)
}

func TestDaemonStatusDefaultPayload(t *testing.T) {
	h := newHarness(t)
	h.preload(&fakeSession{username: alice})
	w, err := h.run(&protocol.Request{Type: protocol.TypeDaemonStatus})
	require.NoError(t, err)
	assert.Equal(t, commands.StatusSnapshot{Accounts: 1}, w.last().Data)
}

type panickingRegistry struct {
	commands.Registry
}

func (panickingRegistry) List() []account.Session { panic("boom") }

func TestDispatchRecoversPanics(t *testing.T) {
	dispatcher, err := commands.NewDispatcher(commands.Options{
		Registry:    panickingRegistry{},
		LinkSession: func() (account.Session, error) { return nil, errors.New("unused") },
	})
	require.NoError(t, err)

	w := &recorder{}
	err = dispatcher.Dispatch(context.Background(), &protocol.Request{Type: protocol.TypeListAccounts}, w)
	require.Error(t, err)
	assert.Equal(t, protocol.MessageInternalFailure, status(t, w.last()).Message)
}

func TestDispatchReportsWriteFailures(t *testing.T) {
	h := newHarness(t)
	w := &recorder{err: errors.New("broken pipe")}
	err := h.dispatcher.Dispatch(context.Background(), &protocol.Request{Type: protocol.TypeListAccounts}, w)
	assert.ErrorIs(t, err, commands.ErrReply)
}

func TestSuccessIsJournaledBeforeReply(t *testing.T) {
	h := newHarness(t)
	h.preload(&fakeSession{username: alice, identity: true, registered: true, sentAt: 1700000000123})

	var seen []int
	w := commands.ReplierFunc(func(resp protocol.Response) error {
		seen = append(seen, len(h.history.Events()))
		return nil
	})
	err := h.dispatcher.Dispatch(context.Background(), &protocol.Request{Type: protocol.TypeSend, Username: alice, RecipientNumber: bob, MessageBody: "hi"}, w)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, seen, "history row must exist when message_sent is written")
	events := h.history.Events()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.TypeSend, events[0].Kind)
	assert.Equal(t, alice, events[0].Account)
}
