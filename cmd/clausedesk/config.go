package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configReveal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd)
	configShowCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print the access token unmasked")
	configGetCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print the access token unmasked")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ClauseDesk configuration",
	Long:  "View or modify the ClauseDesk CLI configuration stored in ~/.clausedesk/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (token masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path, _ := configPath()
		out := cmd.OutOrStdout()
		if *cfg == (Config{}) {
			fmt.Fprintf(out, "No configuration in %s. Run 'clausedesk init <token>' to create one.\n", path)
			return nil
		}

		shown := *cfg
		if !configReveal {
			shown = redactConfig(shown)
		}
		data, err := toml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		fmt.Fprintf(out, "# %s\n%s", path, data)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if !configReveal {
			*cfg = redactConfig(*cfg)
		}
		v, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value using dot notation.\n" +
		"Keys: default.base_url, auth.token, auth.user_id\n" +
		"Example: clausedesk config set default.base_url http://localhost:8080",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		redacted := redactConfig(*cfg)
		shown, _ := getConfigValue(&redacted, key)
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, shown)
		return nil
	},
}
