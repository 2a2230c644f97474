package commands

import (
	"context"

	"courier/internal/account"
	"courier/internal/protocol"
)

func (d *Dispatcher) listAccounts(_ context.Context, req *protocol.Request, w Replier) (string, error) {
	sessions := d.registry.List()
	summaries := make([]account.Summary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	return "", w.Reply(protocol.Reply(req, protocol.TypeAccountList, summaries))
}
