package commands

import (
	"context"

	"courier/internal/account"
	"courier/internal/protocol"
)

func (d *Dispatcher) addDevice(ctx context.Context, req *protocol.Request, w Replier) (string, error) {
	session, err := d.registry.GetOrCreate(req.Username)
	if err != nil {
		return "", requestFailure(err)
	}
	target, err := account.ParseDeviceLink(req.URI)
	if err != nil {
		return session.Username(), requestFailure(err)
	}
	if err := session.AddDeviceLink(ctx, target); err != nil {
		return session.Username(), asFailure(err)
	}
	return session.Username(), w.Reply(protocol.Reply(req, protocol.TypeDeviceAdded, protocol.Status{
		Code:    protocol.CodeDeviceAdded,
		Message: protocol.MessageDeviceAdded,
		Error:   false,
	}))
}
