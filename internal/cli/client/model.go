package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ModelResponse is the answer of GET /get_model.
type ModelResponse struct {
	Provider string `json:"provider"`
}

// SelectModelRequest is the body of POST /select_model.
type SelectModelRequest struct {
	ModelProvider string `json:"model_provider"`
}

func ModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model [provider]",
		Short: "Show or switch the generation provider",
		Long:  "Without an argument prints the current provider. With one (ollama or openai) switches to it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				var resp ModelResponse
				if err := c.Get(cmd.Context(), "/get_model", &resp); err != nil {
					return err
				}
				if wantsJSON(cmd) {
					return writeJSON(out, resp)
				}
				fmt.Fprintln(out, resp.Provider)
				return nil
			}

			var resp SuccessResponse
			if err := c.Post(cmd.Context(), "/select_model", SelectModelRequest{ModelProvider: args[0]}, &resp); err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return writeJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Success)
			return nil
		},
	}
}
