package commands

import (
	"context"

	"courier/internal/protocol"
)

// StatusSnapshot is the default daemon_status payload when no StatusFunc is set.
type StatusSnapshot struct {
	Accounts int `json:"accounts"`
}

func (d *Dispatcher) daemonStatus(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	var payload any
	if d.status != nil {
		payload = d.status(ctx)
	} else {
		payload = StatusSnapshot{Accounts: len(d.registry.List())}
	}
	return "", w.Reply(protocol.Reply(req, protocol.TypeDaemonStatusReply, payload))
}
