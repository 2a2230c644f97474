package commands

import (
	"context"
	"fmt"

	"courier/internal/protocol"
)

func (d *Dispatcher) register(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	session, err := d.registry.GetOrCreate(req.Username)
	if err != nil {
		return "", requestFailure(err)
	}
	if !session.HasIdentity() {
		if err := session.CreateIdentity(); err != nil {
			return session.Username(), requestFailure(fmt.Errorf("create identity: %w", err))
		}
	}
	if err := session.Register(ctx, req.UseVoice()); err != nil {
		return session.Username(), asFailure(err)
	}
	return session.Username(), w.Reply(protocol.Reply(req, protocol.TypeVerificationRequired, session.Summary()))
}
