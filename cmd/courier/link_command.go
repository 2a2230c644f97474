package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/ipc"
	"courier/internal/protocol"
)

// linkGrace covers the daemon's own service calls after the link wait ends.
const linkGrace = 30 * time.Second

func newLinkCommand(ctx *commandContext) *cobra.Command {
	var deviceName string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link this daemon as a secondary device of an existing account",
		Long: "Prints a tsdevice: URI to open on the primary device (usually as a QR code),\n" +
			"then waits until the primary device confirms or the link times out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wait := ctx.requestTimeout()
			if cfg := ctx.configValue(); cfg != nil && cfg.LinkTimeout() > 0 {
				wait = cfg.LinkTimeout() + linkGrace
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			callCtx, cancel := context.WithTimeout(parent, wait)
			defer cancel()

			out := cmd.OutOrStdout()
			req := &protocol.Request{Type: protocol.TypeLink, DeviceName: deviceName}
			return ctx.withClient(func(client *ipc.Client) error {
				return client.Stream(callCtx, req, func(resp *protocol.Response) (bool, error) {
					switch resp.Type {
					case protocol.TypeLinkingURI:
						var uri protocol.LinkingURI
						if err := resp.DecodeData(&uri); err != nil {
							return true, err
						}
						if ctx.json() {
							return false, writeJSON(cmd, uri)
						}
						fmt.Fprintln(out, "Open this link on the primary device:")
						fmt.Fprintln(out, uri.URI)
						fmt.Fprintln(out, "Waiting for confirmation...")
						return false, nil
					case protocol.TypeLinkingSuccessful:
						if ctx.json() {
							return true, writeRawJSON(cmd, resp.Data)
						}
						summary, err := decodeSummary(resp)
						if err != nil {
							return true, err
						}
						fmt.Fprint(out, "Linked ")
						printSummary(out, summary)
						return true, nil
					default:
						if resp.IsFailure() {
							return true, responseError(resp)
						}
						return true, fmt.Errorf("unexpected %s response while linking", resp.Type)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&deviceName, "device-name", "", "Name shown on the primary device (default link.device_name)")
	return cmd
}
