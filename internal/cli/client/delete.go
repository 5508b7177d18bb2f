package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

func DeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "delete <filename>",
		Aliases: []string{"rm"},
		Short:   "Delete a document, or every document with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no filename")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("expected exactly one filename, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			path := "/delete_all"
			if !all {
				path = documentPath("/delete", args[0])
			}

			var resp SuccessResponse
			if err := c.Delete(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Success)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every document")

	return cmd
}
