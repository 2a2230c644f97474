package commands

import (
	"context"

	"courier/internal/protocol"
)

func (d *Dispatcher) verify(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	session, err := d.registry.GetOrCreate(req.Username)
	if err != nil {
		return "", requestFailure(err)
	}
	switch {
	case !session.HasIdentity():
		return session.Username(), preconditionFailure(protocol.MessageMustRegister)
	case session.IsRegistered():
		return session.Username(), preconditionFailure(protocol.MessageAlreadyVerified)
	}
	if err := session.Verify(ctx, req.Code); err != nil {
		return session.Username(), asFailure(err)
	}
	return session.Username(), w.Reply(protocol.Reply(req, protocol.TypeVerificationSucceeded, session.Summary()))
}
