package commands

import (
	"context"
	"fmt"

	"courier/internal/account"
	"courier/internal/logging"
	"courier/internal/protocol"
)

// link provisions a new account from an existing primary device. The client
// first receives linking_uri, then either linking_successful or linking_error
// once the wait completes. The temporary session is discarded on failure.
func (d *Dispatcher) link(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	session, err := d.linkSession()
	if err != nil {
		return "", linkFailure(fmt.Errorf("new link session: %w", err))
	}
	if err := session.CreateIdentity(); err != nil {
		return "", linkFailure(fmt.Errorf("create identity: %w", err))
	}
	uri, err := session.DeviceLinkURI(ctx)
	if err != nil {
		return "", linkFailure(err)
	}
	if err := w.Reply(protocol.Reply(req, protocol.TypeLinkingURI, protocol.LinkingURI{URI: uri.String()})); err != nil {
		return "", err
	}

	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = d.deviceName
	}
	if err := session.FinishDeviceLink(ctx, deviceName); err != nil {
		return session.Username(), linkFailure(err)
	}

	summary := d.adopt(ctx, session)
	return summary.Username, w.Reply(protocol.Reply(req, protocol.TypeLinkingSuccessful, summary))
}

// adopt makes a freshly linked account visible through the registry. If the
// registry cannot load it the linked session's own summary is reported, since
// the account is already persisted.
func (d *Dispatcher) adopt(ctx context.Context, linked account.Session) account.Summary {
	logger := logging.WithContext(ctx, d.logger)
	live, err := d.registry.GetOrCreate(linked.Username())
	if err == nil && !live.HasIdentity() && live.Exists() {
		err = live.Init()
	}
	if err != nil {
		logging.WarnWithContext(logger, "linked account not added to registry", "link_adopt_failed",
			logging.String(logging.FieldAccount, linked.Username()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the daemon to load the account file"),
			logging.String(logging.FieldImpact, "account is missing from list_accounts until restart"),
		)
		return linked.Summary()
	}
	return live.Summary()
}
