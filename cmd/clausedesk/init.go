package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initUserID  string
	initBaseURL string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "User ID sent in the socket handshake")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "API origin (default "+defaultBaseURL()+")")
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store credentials in ~/.clausedesk/config.toml",
	Long:  "Initialize the ClauseDesk CLI by storing your access token in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if initUserID != "" {
			cfg.Auth.UserID = initUserID
		}
		if initBaseURL != "" {
			if err := setConfigValue(cfg, "default.base_url", initBaseURL); err != nil {
				return err
			}
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to %s\n", path)
		if cfg.Auth.UserID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Set a user ID with 'clausedesk config set auth.user_id <id>' before using 'listen' or 'send'.")
		}
		return nil
	},
}
