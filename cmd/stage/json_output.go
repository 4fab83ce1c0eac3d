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

// writeJSONResult encodes v with an error field when err is non-nil and then
// returns err, so failures still produce a parseable document on stdout.
func writeJSONResult(cmd *cobra.Command, v any, err error) error {
	payload := map[string]any{"result": v}
	if err != nil {
		payload["error"] = err.Error()
	}
	if encErr := writeJSON(cmd, payload); encErr != nil {
		return encErr
	}
	return err
}
