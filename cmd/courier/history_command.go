package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var filter history.Filter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent account workflow outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if ctx.json() {
				return writeJSON(cmd, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No matching history")
				return nil
			}
			fmt.Fprint(out, renderHistory(events))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Account, "account", "", "Only show events for this account")
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "Only show events of this request type")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", history.DefaultListLimit, "Maximum number of events")
	return cmd
}

func renderHistory(events []history.Event) string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		code := ""
		if e.Code != 0 {
			code = strconv.Itoa(e.Code)
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			fallback(e.Account, "-"),
			e.Kind,
			string(e.Outcome),
			code,
			e.Detail,
		})
	}
	return renderTable(
		[]string{"Time", "Account", "Request", "Outcome", "Code", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
