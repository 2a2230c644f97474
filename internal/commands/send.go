package commands

import (
	"context"

	"courier/internal/protocol"
)

// send only uses sessions that already exist; it never creates accounts.
func (d *Dispatcher) send(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	session, err := d.registry.Get(req.Username)
	if err != nil {
		return "", err
	}
	timestamp, err := session.Send(ctx, req.MessageBody, req.AttachmentFilenames, req.RecipientNumber)
	if err != nil {
		return session.Username(), requestFailure(err)
	}
	return session.Username(), w.Reply(protocol.Reply(req, protocol.TypeMessageSent, protocol.MessageSent{
		Username:  session.Username(),
		Recipient: req.RecipientNumber,
		Timestamp: timestamp,
	}))
}
