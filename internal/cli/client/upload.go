package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// UploadResponse is the answer of POST /upload.
type UploadResponse struct {
	Success      string  `json:"success"`
	IndexingTime float64 `json:"indexing_time,omitempty"`
}

func UploadCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload and index documents",
		Long:  "Uploads PDF, TXT or DOCX files. Each upload returns once the file is indexed unless --async is set.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			for _, path := range args {
				var resp UploadResponse
				if err := c.Upload(cmd.Context(), path, async, &resp); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if wantsJSON(cmd) {
					if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Success)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Return once the file is accepted and index in the background")

	return cmd
}
