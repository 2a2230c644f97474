package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"courier/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines      int
		follow     bool
		level      string
		connection string
		account    string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := logs.Filter{ConnectionID: strings.TrimSpace(connection), Account: strings.TrimSpace(account)}
			if strings.TrimSpace(level) != "" {
				filter.MinLevel = logs.ParseLevel(level)
			}

			path := cfg.DaemonLogPath()
			// Over-read when filtering so -n still yields up to n matches.
			readLimit := lines
			if !filter.Empty() && lines > 0 {
				readLimit = lines * 20
			}
			chunk, err := logs.Last(path, readLimit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			matched := make([]string, 0, len(chunk.Lines))
			for _, line := range chunk.Lines {
				if filter.Match(line) {
					matched = append(matched, line)
				}
			}
			if lines > 0 && len(matched) > lines {
				matched = matched[len(matched)-lines:]
			}
			for _, line := range matched {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(chunk.Lines) == 0 && chunk.Offset == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log entries at %s\n", path)
				}
				return nil
			}

			followCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(followCtx, path, chunk.Offset, func(line string) error {
				if filter.Match(line) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&connection, "connection", "", "Only show records for this connection id")
	cmd.Flags().StringVar(&account, "account", "", "Only show records for this account")
	return cmd
}
