package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigCmd saves or shows the connection profile used when neither flags
// nor environment variables are set.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the saved server URL and token",
	}

	var apiURL, apiToken string
	set := &cobra.Command{
		Use:   "set",
		Short: "Save the server URL and token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadGlobalConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &GlobalConfig{}
			}
			if cmd.Flags().Changed("url") {
				cfg.APIURL = apiURL
			}
			if cmd.Flags().Changed("token") {
				cfg.APIToken = apiToken
			}
			if err := SaveGlobalConfig(cfg); err != nil {
				return err
			}
			path, _ := GetConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}
	set.Flags().StringVar(&apiURL, "url", "", "Server base URL")
	set.Flags().StringVar(&apiToken, "token", "", "Bearer token")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the saved profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadGlobalConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved profile.")
				return nil
			}
			token := ""
			if cfg.APIToken != "" {
				token = "(set)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api_url: %s\napi_token: %s\n", cfg.APIURL, token)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return DeleteGlobalConfig()
		},
	}

	cmd.AddCommand(set, show, remove)
	return cmd
}

// RootFlags registers the persistent connection flags on the root command.
func RootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("output", false, "Output as JSON")
	cmd.PersistentFlags().String("api-token", "", "Bearer token (overrides env and config)")
	cmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
}
