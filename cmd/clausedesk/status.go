package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clausedesk/clausedesk-go/internal/cache"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, the offline cache state and live notification counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, defaultBaseURL()+" (default)"))
		fmt.Fprintf(out, "  User ID:     %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token:       %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token:       (not set)")
		}

		if path, err := cachePath(); err == nil {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Offline cache:")
			if c, err := cache.Open(path); err != nil {
				fmt.Fprintf(out, "  Error: %v\n", err)
			} else {
				snap, err := c.Load(cmd.Context())
				c.Close()
				switch {
				case err != nil:
					fmt.Fprintf(out, "  Error: %v\n", err)
				case snap.SavedAt.IsZero():
					fmt.Fprintln(out, "  (empty)")
				default:
					fmt.Fprintf(out, "  Saved:       %s\n", snap.SavedAt.Local().Format(time.RFC3339))
					fmt.Fprintf(out, "  Entries:     %d (%d unread)\n", len(snap.Notifications), snap.Unread())
				}
			}
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		client, err := getClient(cfg, newLogger())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		list, err := client.Notifications().List(ctx)
		if err != nil {
			fmt.Fprintf(out, "  Error fetching notifications: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Socket:        %s\n", client.WebSocketURL())
		fmt.Fprintf(out, "  Notifications: %d\n", len(list.Notifications))
		fmt.Fprintf(out, "  Unread:        %d\n", list.UnreadCount)
		return nil
	},
}
