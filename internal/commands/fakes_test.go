package commands_test

import (
	"context"
	"net/url"
	"sync"

	"courier/internal/account"
	"courier/internal/history"
	"courier/internal/protocol"
)

// fakeSession records the calls workflows make against an account.
type fakeSession struct {
	mu sync.Mutex

	username   string
	identity   bool
	registered bool
	exists     bool

	calls []string

	registerErr error
	verifyErr   error
	sendErr     error
	addErr      error
	linkURI     string
	linkErr     error
	finishErr   error
	linkedAs    string
	sentAt      int64
	lastVoice   bool
	lastDevice  string
	lastTarget  account.DeviceLink
}

func (f *fakeSession) call(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

func (f *fakeSession) HasIdentity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *fakeSession) CreateIdentity() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("CreateIdentity")
	f.identity = true
	return nil
}

func (f *fakeSession) IsRegistered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

func (f *fakeSession) Register(_ context.Context, voice bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("Register")
	f.lastVoice = voice
	return f.registerErr
}

func (f *fakeSession) Verify(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("Verify")
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.registered = true
	return nil
}

func (f *fakeSession) DeviceLinkURI(context.Context) (*url.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("DeviceLinkURI")
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return url.Parse(f.linkURI)
}

func (f *fakeSession) FinishDeviceLink(_ context.Context, deviceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("FinishDeviceLink")
	f.lastDevice = deviceName
	if f.finishErr != nil {
		return f.finishErr
	}
	f.username = f.linkedAs
	f.registered = true
	f.exists = true
	return nil
}

func (f *fakeSession) AddDeviceLink(_ context.Context, target account.DeviceLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("AddDeviceLink")
	f.lastTarget = target
	return f.addErr
}

func (f *fakeSession) Send(context.Context, string, []string, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("Send")
	return f.sentAt, f.sendErr
}

func (f *fakeSession) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *fakeSession) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("Init")
	f.identity = true
	f.registered = true
	return nil
}

func (f *fakeSession) Summary() account.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := account.StateNoIdentity
	if f.identity {
		state = account.StateIdentityCreated
	}
	if f.registered {
		state = account.StateVerified
	}
	return account.Summary{
		Username:   f.username,
		Registered: f.registered,
		HasKeys:    f.identity,
		State:      state,
	}
}

// recorder collects responses written for one request.
type recorder struct {
	mu        sync.Mutex
	responses []protocol.Response
	err       error
}

func (r *recorder) Reply(resp protocol.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.responses = append(r.responses, resp)
	return nil
}

func (r *recorder) all() []protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Response(nil), r.responses...)
}

func (r *recorder) last() protocol.Response {
	all := r.all()
	if len(all) == 0 {
		return protocol.Response{}
	}
	return all[len(all)-1]
}

type memoryHistory struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memoryHistory) Record(_ context.Context, event history.Event) (history.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memoryHistory) Events() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}
