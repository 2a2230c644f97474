package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRawJSON re-indents a raw payload before printing it.
func writeRawJSON(cmd *cobra.Command, raw any) error {
	if msg, ok := raw.(json.RawMessage); ok {
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		return writeJSON(cmd, v)
	}
	return writeJSON(cmd, raw)
}
