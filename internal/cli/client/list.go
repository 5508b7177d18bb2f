package client

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// DocumentItem is one entry of GET /documents.
type DocumentItem struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages"`
}

func ListCmd() *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List indexed documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if legacy {
				var names []string
				if err := c.Get(cmd.Context(), "/documents?format=legacy", &names); err != nil {
					return err
				}
				if wantsJSON(cmd) {
					return writeJSON(out, names)
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			var docs []DocumentItem
			if err := c.Get(cmd.Context(), "/documents", &docs); err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return writeJSON(out, docs)
			}
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILENAME\tSIZE\tPAGES")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", d.Filename, d.Size, d.Pages)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "List filenames only")

	return cmd
}
