package client

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// wantsJSON reports whether the persistent --output flag is set.
func wantsJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
