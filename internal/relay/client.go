package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"courier/internal/account"
	"courier/internal/config"
	"courier/internal/logging"
)

const maxErrorBody = 4 << 10

// StatusError reports a non-2xx reply from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: service returned %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the remote messaging service.
type Client struct {
	base      *url.URL
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

var _ account.Service = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("service url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("service url: unsupported scheme %q", base.Scheme)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "courier"
	}
	return &Client{
		base:      base,
		userAgent: userAgent,
		http:      client,
		logger:    logging.NewComponentLogger(opts.Logger, "relay"),
	}, nil
}

// NewFromConfig builds a Client from the service section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	return New(Options{
		BaseURL:   cfg.Service.URL,
		UserAgent: cfg.Service.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Logger:    logger,
	})
}

// RequestCode asks the service to deliver a verification code.
func (c *Client) RequestCode(ctx context.Context, number string, voice bool) error {
	transport := "sms"
	if voice {
		transport = "voice"
	}
	path := "/v1/accounts/" + transport + "/code/" + url.PathEscape(number)
	return c.do(ctx, "request code", http.MethodGet, path, nil, nil, nil)
}

// VerifyAccount submits the verification code together with account attributes.
func (c *Client) VerifyAccount(ctx context.Context, creds account.Credentials, code string, attrs account.AccountAttributes) error {
	path := "/v1/accounts/code/" + url.PathEscape(code)
	return c.do(ctx, "verify account", http.MethodPut, path, &creds, attrs, nil)
}

type outgoingEnvelope struct {
	Destination string                  `json:"destination"`
	Message     account.OutgoingMessage `json:"message"`
}

// SendMessage delivers msg to recipient.
func (c *Client) SendMessage(ctx context.Context, creds account.Credentials, recipient string, msg account.OutgoingMessage) error {
	path := "/v1/messages/" + url.PathEscape(recipient)
	return c.do(ctx, "send message", http.MethodPut, path, &creds, outgoingEnvelope{Destination: recipient, Message: msg}, nil)
}

// NewDeviceCode obtains a one-time code authorizing a new linked device.
func (c *Client) NewDeviceCode(ctx context.Context, creds account.Credentials) (string, error) {
	var reply struct {
		VerificationCode string `json:"verificationCode"`
	}
	if err := c.do(ctx, "device code", http.MethodGet, "/v1/devices/provisioning/code", &creds, nil, &reply); err != nil {
		return "", err
	}
	if reply.VerificationCode == "" {
		return "", errors.New("device code: empty verification code")
	}
	return reply.VerificationCode, nil
}

// SendProvisioning forwards a sealed provision message to the waiting device.
func (c *Client) SendProvisioning(ctx context.Context, creds account.Credentials, destination string, sealed []byte) error {
	body := struct {
		Body []byte `json:"body"`
	}{Body: sealed}
	path := "/v1/provisioning/" + url.PathEscape(destination)
	return c.do(ctx, "send provisioning", http.MethodPut, path, &creds, body, nil)
}

// FinishDevice registers this process as a new device of the account and
// returns the assigned device id.
func (c *Client) FinishDevice(ctx context.Context, creds account.Credentials, code string, attrs account.AccountAttributes) (int, error) {
	var reply struct {
		DeviceID int `json:"deviceId"`
	}
	path := "/v1/devices/" + url.PathEscape(code)
	if err := c.do(ctx, "finish device", http.MethodPut, path, &creds, attrs, &reply); err != nil {
		return 0, err
	}
	if reply.DeviceID <= 0 {
		return 0, errors.New("finish device: service returned no device id")
	}
	return reply.DeviceID, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method, path string, creds *account.Credentials, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds != nil {
		req.SetBasicAuth(authUser(*creds), creds.Password)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("service request",
		logging.String("op", op),
		logging.String("method", method),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// authUser renders the basic auth user: the number for the primary device,
// number.deviceId for linked devices.
func authUser(creds account.Credentials) string {
	if creds.DeviceID > 1 {
		return creds.Username + "." + strconv.Itoa(creds.DeviceID)
	}
	return creds.Username
}
