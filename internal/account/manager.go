package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"courier/internal/logging"
)

// Options configures a Manager.
type Options struct {
	// Dir holds one file per account.
	Dir     string
	Service Service
	// LinkTimeout bounds FinishDeviceLink. Zero means no bound beyond ctx.
	LinkTimeout time.Duration
	Logger      *slog.Logger
	Random      io.Reader
	Now         func() time.Time
}

// Manager is the concrete Session backed by a file store and a Service.
//
// op serializes the operations that change the account, including their
// remote calls. mu only guards state and identity, so readers such as
// Summary never wait on the network.
type Manager struct {
	op       sync.Mutex
	mu       sync.Mutex
	opts     Options
	store    fileStore
	logger   *slog.Logger
	state    accountFile
	identity *IdentityKeyPair
	// provisioning is open between DeviceLinkURI and FinishDeviceLink.
	provisioning ProvisioningChannel
}

var _ Session = (*Manager)(nil)

// NewManager returns a session for username. An empty username creates an
// unkeyed session for linking, whose identifier is learned from the primary
// device.
func NewManager(username string, opts Options) (*Manager, error) {
	if opts.Service == nil {
		return nil, errors.New("account manager requires a service")
	}
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("account manager requires a data directory")
	}
	if username != "" {
		normalized, err := ValidateUsername(username)
		if err != nil {
			return nil, err
		}
		username = normalized
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "account")
	if username != "" {
		logger = logger.With(logging.String(logging.FieldAccount, username))
	}
	return &Manager{
		opts:   opts,
		store:  fileStore{dir: opts.Dir},
		logger: logger,
		state:  accountFile{Username: username},
	}, nil
}

func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Username
}

func (m *Manager) HasIdentity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity != nil
}

func (m *Manager) IsRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Registered
}

// Exists reports whether the account has a file on disk.
func (m *Manager) Exists() bool {
	return m.store.exists(m.Username())
}

// snapshot copies the committed state. Slices inside it are never mutated in
// place, only replaced.
func (m *Manager) snapshot() (accountFile, *IdentityKeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.identity
}

func (m *Manager) commit(state accountFile, identity *IdentityKeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.identity = identity
}

// Init loads the persisted account state.
func (m *Manager) Init() error {
	m.op.Lock()
	defer m.op.Unlock()
	current, _ := m.snapshot()
	if current.Username == "" {
		return errors.New("init: account has no identifier")
	}
	state, err := m.store.load(current.Username)
	if err != nil {
		return err
	}
	var identity *IdentityKeyPair
	if len(state.IdentityKeyPrivate) > 0 {
		identity, err = identityFromBytes(state.IdentityKeyPublic, state.IdentityKeyPrivate)
		if err != nil {
			return fmt.Errorf("load %s: %w", current.Username, err)
		}
	}
	m.commit(*state, identity)
	return nil
}

// CreateIdentity generates identity keys, a registration id and a service
// password. Keyed sessions are persisted immediately.
func (m *Manager) CreateIdentity() error {
	m.op.Lock()
	defer m.op.Unlock()
	identity, err := GenerateIdentity(m.opts.Random)
	if err != nil {
		return err
	}
	registrationID, err := newRegistrationID(m.opts.Random)
	if err != nil {
		return err
	}
	password, err := newPassword(m.opts.Random)
	if err != nil {
		return err
	}
	next, _ := m.snapshot()
	next.IdentityKeyPublic = append([]byte(nil), identity.Public[:]...)
	next.IdentityKeyPrivate = append([]byte(nil), identity.Private[:]...)
	next.RegistrationID = registrationID
	next.Password = password
	next.Registered = false
	next.PendingVerification = false
	next.DeviceID = 0
	if next.Username != "" {
		if err := m.store.save(&next, false); err != nil {
			return err
		}
	}
	m.commit(next, identity)
	m.logger.Debug("identity created", logging.String(logging.FieldEventType, "identity_created"))
	return nil
}

// Register asks the service to send a verification code by SMS or voice.
func (m *Manager) Register(ctx context.Context, voice bool) error {
	m.op.Lock()
	defer m.op.Unlock()
	next, identity := m.snapshot()
	if identity == nil {
		return ErrNoIdentity
	}
	if err := m.opts.Service.RequestCode(ctx, next.Username, voice); err != nil {
		return fmt.Errorf("request verification code: %w", err)
	}
	next.PendingVerification = true
	if err := m.store.save(&next, false); err != nil {
		return err
	}
	m.commit(next, identity)
	m.logger.Info("verification code requested",
		logging.String(logging.FieldEventType, "registration_requested"),
		logging.Bool("voice", voice),
	)
	return nil
}

// Verify completes registration with the code the user received.
func (m *Manager) Verify(ctx context.Context, code string) error {
	m.op.Lock()
	defer m.op.Unlock()
	next, identity := m.snapshot()
	if identity == nil {
		return ErrNoIdentity
	}
	if next.Registered {
		return ErrAlreadyVerified
	}
	code = strings.ReplaceAll(strings.TrimSpace(code), "-", "")
	if code == "" {
		return errors.New("verification code is required")
	}
	attrs := AccountAttributes{
		RegistrationID:  next.RegistrationID,
		IdentityKey:     identity.PublicKeyString(),
		FetchesMessages: true,
	}
	if err := m.opts.Service.VerifyAccount(ctx, credentials(next), code, attrs); err != nil {
		return fmt.Errorf("verify account: %w", err)
	}
	next.Registered = true
	next.PendingVerification = false
	next.DeviceID = 1
	if err := m.store.save(&next, false); err != nil {
		return err
	}
	m.commit(next, identity)
	m.logger.Info("account verified", logging.String(logging.FieldEventType, "account_verified"))
	return nil
}

// DeviceLinkURI opens a provisioning address and returns the URI the primary
// device must scan. Any previous pending link is abandoned.
func (m *Manager) DeviceLinkURI(ctx context.Context) (*url.URL, error) {
	m.op.Lock()
	defer m.op.Unlock()
	_, identity := m.snapshot()
	if identity == nil {
		return nil, ErrNoIdentity
	}
	m.closeProvisioning()
	channel, err := m.opts.Service.OpenProvisioning(ctx)
	if err != nil {
		return nil, fmt.Errorf("open provisioning channel: %w", err)
	}
	m.provisioning = channel
	link := DeviceLink{UUID: channel.UUID(), PublicKey: identity.Public}
	uri, err := url.Parse(link.URI())
	if err != nil {
		m.closeProvisioning()
		return nil, fmt.Errorf("build device link uri: %w", err)
	}
	return uri, nil
}

// FinishDeviceLink waits for the primary device to provision this session,
// registers it as a new device and persists the account. The provisioning
// channel is closed on every path.
//
// The account file lock is held from the existence check through the save,
// so no cooperating writer can claim the identifier while the service
// registers the device.
func (m *Manager) FinishDeviceLink(ctx context.Context, deviceName string) error {
	m.op.Lock()
	defer m.op.Unlock()
	if m.provisioning == nil {
		return ErrNoLinkInProgress
	}
	defer m.closeProvisioning()
	current, ownIdentity := m.snapshot()

	waitCtx := ctx
	if m.opts.LinkTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.opts.LinkTimeout)
		defer cancel()
	}
	sealed, err := m.provisioning.Await(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrLinkTimeout, m.opts.LinkTimeout)
		}
		return fmt.Errorf("await provisioning message: %w", err)
	}
	msg, err := OpenProvisionMessage(sealed, ownIdentity)
	if err != nil {
		return err
	}
	username, err := ValidateUsername(msg.Number)
	if err != nil {
		return fmt.Errorf("provision message: %w", err)
	}
	identity, err := identityFromBytes(msg.IdentityKeyPublic, msg.IdentityKeyPrivate)
	if err != nil {
		return fmt.Errorf("provision message: %w", err)
	}

	lock, err := m.store.lock(username)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck
	if m.store.exists(username) {
		return &UserExistsError{Username: username, FileName: m.store.path(username)}
	}

	password, err := newPassword(m.opts.Random)
	if err != nil {
		return err
	}
	attrs := AccountAttributes{
		RegistrationID:  current.RegistrationID,
		IdentityKey:     identity.PublicKeyString(),
		Name:            deviceName,
		FetchesMessages: true,
	}
	deviceID, err := m.opts.Service.FinishDevice(ctx, Credentials{Username: username, Password: password}, msg.ProvisioningCode, attrs)
	if err != nil {
		return fmt.Errorf("finish device link: %w", err)
	}

	next := current
	next.Username = username
	next.Password = password
	next.DeviceID = deviceID
	next.IdentityKeyPublic = append([]byte(nil), identity.Public[:]...)
	next.IdentityKeyPrivate = append([]byte(nil), identity.Private[:]...)
	next.Registered = true
	next.PendingVerification = false
	if err := m.store.saveLocked(&next, true); err != nil {
		m.logger.Error("linked device could not be saved",
			logging.String(logging.FieldEventType, "device_link_orphaned"),
			logging.String(logging.FieldAccount, username),
			logging.Int("device_id", deviceID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the device from the primary and link again"),
		)
		return err
	}
	m.commit(next, identity)
	m.logger = m.logger.With(logging.String(logging.FieldAccount, username))
	m.logger.Info("device linked",
		logging.String(logging.FieldEventType, "device_linked"),
		logging.Int("device_id", deviceID),
		logging.String("device_name", deviceName),
	)
	return nil
}

// AddDeviceLink provisions the device waiting at target with this account.
func (m *Manager) AddDeviceLink(ctx context.Context, target DeviceLink) error {
	m.op.Lock()
	defer m.op.Unlock()
	state, identity := m.snapshot()
	if !state.Registered || identity == nil {
		return ErrNotRegistered
	}
	creds := credentials(state)
	code, err := m.opts.Service.NewDeviceCode(ctx, creds)
	if err != nil {
		return fmt.Errorf("request device code: %w", err)
	}
	sealed, err := SealProvisionMessage(ProvisionMessage{
		Number:             state.Username,
		ProvisioningCode:   code,
		IdentityKeyPublic:  identity.Public[:],
		IdentityKeyPrivate: identity.Private[:],
	}, &target.PublicKey)
	if err != nil {
		return err
	}
	if err := m.opts.Service.SendProvisioning(ctx, creds, target.UUID, sealed); err != nil {
		return fmt.Errorf("send provisioning message: %w", err)
	}
	m.logger.Info("device added",
		logging.String(logging.FieldEventType, "device_added"),
		logging.String("device_uuid", target.UUID),
	)
	return nil
}

// Send delivers body and attachments to recipient and returns the message
// timestamp in milliseconds.
func (m *Manager) Send(ctx context.Context, body string, attachments []string, recipient string) (int64, error) {
	m.op.Lock()
	defer m.op.Unlock()
	state, _ := m.snapshot()
	if !state.Registered {
		return 0, ErrNotRegistered
	}
	to, err := ValidateUsername(recipient)
	if err != nil {
		return 0, fmt.Errorf("recipient: %w", err)
	}
	files, err := loadAttachments(attachments)
	if err != nil {
		return 0, err
	}
	msg := OutgoingMessage{
		Body:        body,
		Attachments: files,
		Timestamp:   m.opts.Now().UnixMilli(),
	}
	if err := m.opts.Service.SendMessage(ctx, credentials(state), to, msg); err != nil {
		return 0, fmt.Errorf("send message to %s: %w", to, err)
	}
	m.logger.Debug("message sent",
		logging.String(logging.FieldEventType, "message_sent"),
		logging.String("recipient", to),
		logging.Int("attachments", len(files)),
	)
	return msg.Timestamp, nil
}

// Summary returns the public state of the account.
func (m *Manager) Summary() Summary {
	state, identity := m.snapshot()
	summary := Summary{
		Username:   state.Username,
		Registered: state.Registered,
		HasKeys:    identity != nil,
		State:      stateOf(state, identity),
	}
	if state.Username != "" {
		summary.Filename = m.store.path(state.Username)
	}
	if state.DeviceID > 0 {
		id := state.DeviceID
		summary.DeviceID = &id
	}
	return summary
}

func stateOf(state accountFile, identity *IdentityKeyPair) State {
	switch {
	case identity == nil:
		return StateNoIdentity
	case state.Registered:
		return StateVerified
	case state.PendingVerification:
		return StateRegistrationPending
	default:
		return StateIdentityCreated
	}
}

func credentials(state accountFile) Credentials {
	return Credentials{
		Username: state.Username,
		Password: state.Password,
		DeviceID: state.DeviceID,
	}
}

// closeProvisioning must be called with op held.
func (m *Manager) closeProvisioning() {
	if m.provisioning == nil {
		return
	}
	if err := m.provisioning.Close(); err != nil {
		m.logger.Debug("provisioning channel close failed", logging.Error(err))
	}
	m.provisioning = nil
}
