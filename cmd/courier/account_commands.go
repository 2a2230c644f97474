package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"courier/internal/account"
	"courier/internal/protocol"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"list"},
		Short:   "List accounts known to the daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.call(cmd, &protocol.Request{Type: protocol.TypeListAccounts})
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeRawJSON(cmd, resp.Data)
			}
			var summaries []account.Summary
			if err := resp.DecodeData(&summaries); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No accounts")
				return nil
			}
			fmt.Fprint(out, renderAccounts(summaries))
			return nil
		},
	}
}

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var voice bool
	cmd := &cobra.Command{
		Use:   "register <number>",
		Short: "Create an identity for number and request a verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &protocol.Request{Type: protocol.TypeRegister, Username: args[0]}
			if voice {
				req.Voice = &voice
			}
			resp, err := ctx.call(cmd, req)
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeRawJSON(cmd, resp.Data)
			}
			summary, err := decodeSummary(resp)
			if err != nil {
				return err
			}
			transport := "SMS"
			if voice {
				transport = "voice call"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Verification code requested for %s by %s\n", summary.Username, transport)
			fmt.Fprintf(out, "Run `courier verify %s <code>` once it arrives\n", summary.Username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&voice, "voice", false, "Request the code by voice call instead of SMS")
	return cmd
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <number> <code>",
		Short: "Complete registration with the received verification code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.call(cmd, &protocol.Request{Type: protocol.TypeVerify, Username: args[0], Code: args[1]})
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeRawJSON(cmd, resp.Data)
			}
			summary, err := decodeSummary(resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s verified\n", summary.Username)
			return nil
		},
	}
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	var attachments []string
	cmd := &cobra.Command{
		Use:   "send <number> <recipient> [message]",
		Short: "Send a message from a registered account",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &protocol.Request{
				Type:                protocol.TypeSend,
				Username:            args[0],
				RecipientNumber:     args[1],
				AttachmentFilenames: attachments,
			}
			if len(args) == 3 {
				req.MessageBody = args[2]
			}
			if req.MessageBody == "" && len(attachments) == 0 {
				return fmt.Errorf("nothing to send: give a message or --attachment")
			}
			resp, err := ctx.call(cmd, req)
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeRawJSON(cmd, resp.Data)
			}
			var sent protocol.MessageSent
			if err := resp.DecodeData(&sent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s (timestamp %d)\n", sent.Recipient, sent.Timestamp)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&attachments, "attachment", "a", nil, "File to attach (repeatable)")
	return cmd
}

func newAddDeviceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add-device <number> <uri>",
		Short: "Link a new device to a registered account using its tsdevice: URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.call(cmd, &protocol.Request{Type: protocol.TypeAddDevice, Username: args[0], URI: args[1]})
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeRawJSON(cmd, resp.Data)
			}
			var status protocol.Status
			if err := resp.DecodeData(&status); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.Message)
			return nil
		},
	}
}

func decodeSummary(resp *protocol.Response) (account.Summary, error) {
	var summary account.Summary
	if err := resp.DecodeData(&summary); err != nil {
		return account.Summary{}, err
	}
	return summary, nil
}

func renderAccounts(summaries []account.Summary) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		device := "-"
		if s.DeviceID != nil {
			device = strconv.Itoa(*s.DeviceID)
		}
		rows = append(rows, []string{
			s.Username,
			device,
			string(s.State),
			yesNo(s.Registered),
			yesNo(s.HasKeys),
			s.Filename,
		})
	}
	return renderTable(
		[]string{"Account", "Device", "State", "Registered", "Keys", "File"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func printSummary(out io.Writer, summary account.Summary) {
	device := "unlinked"
	if summary.DeviceID != nil {
		device = "device " + strconv.Itoa(*summary.DeviceID)
	}
	fmt.Fprintf(out, "%s (%s, %s)\n", summary.Username, device, strings.ReplaceAll(string(summary.State), "-", " "))
}
