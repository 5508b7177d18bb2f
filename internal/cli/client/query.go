package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query    string `json:"query"`
	Filename string `json:"filename,omitempty"`
}

func QueryCmd() *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:     "query <text>",
		Aliases: []string{"ask"},
		Short:   "Ask a question about the indexed documents",
		Long:    "Streams the answer to stdout as it is generated. --file restricts retrieval to one document.",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			req := QueryRequest{Query: strings.Join(args, " "), Filename: filename}
			if err := c.Stream(cmd.Context(), "/query", req, cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&filename, "file", "f", "", "Only search this document")

	return cmd
}
