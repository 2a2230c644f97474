package account_test

import (
	"context"
	"sync"

	"courier/internal/account"
)

type fakeChannel struct {
	uuid    string
	deliver chan []byte
	closed  bool
	mu      sync.Mutex
}

func (c *fakeChannel) UUID() string { return c.uuid }

func (c *fakeChannel) Await(ctx context.Context) ([]byte, error) {
	select {
	case sealed := <-c.deliver:
		return sealed, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeService struct {
	mu          sync.Mutex
	codes       []string
	voice       []bool
	verified    []string
	sent        []account.OutgoingMessage
	recipients  []string
	provisioned map[string][]byte
	channel     *fakeChannel
	deviceID    int
	err         error
	// entered and release, when set, park RequestCode until release closes.
	entered  chan struct{}
	release  chan struct{}
	onFinish func(account.Credentials)
}

func newFakeService() *fakeService {
	return &fakeService{
		provisioned: map[string][]byte{},
		channel:     &fakeChannel{uuid: "5f0c9a9e-8a6c-4f43-9d3a-0f3b1f6a2c11", deliver: make(chan []byte, 1)},
		deviceID:    2,
	}
}

func (s *fakeService) RequestCode(_ context.Context, number string, voice bool) error {
	if s.release != nil {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.codes = append(s.codes, number)
	s.voice = append(s.voice, voice)
	return nil
}

func (s *fakeService) VerifyAccount(_ context.Context, creds account.Credentials, code string, _ account.AccountAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.verified = append(s.verified, creds.Username+":"+code)
	return nil
}

func (s *fakeService) SendMessage(_ context.Context, _ account.Credentials, recipient string, msg account.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recipients = append(s.recipients, recipient)
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeService) NewDeviceCode(context.Context, account.Credentials) (string, error) {
	return "123456", s.err
}

func (s *fakeService) SendProvisioning(_ context.Context, _ account.Credentials, destination string, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.provisioned[destination] = sealed
	return nil
}

func (s *fakeService) OpenProvisioning(context.Context) (account.ProvisioningChannel, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.channel, nil
}

func (s *fakeService) FinishDevice(_ context.Context, creds account.Credentials, _ string, _ account.AccountAttributes) (int, error) {
	if s.onFinish != nil {
		s.onFinish(creds)
	}
	return s.deviceID, s.err
}
