package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clausedesk/clausedesk-go"
	"github.com/clausedesk/clausedesk-go/internal/cache"
)

var (
	notificationsJSON    bool
	notificationsOffline bool
	notificationsUnread  bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsReadAllCmd)

	notificationsListCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")
	notificationsListCmd.Flags().BoolVar(&notificationsOffline, "offline", false, "Read the local cache instead of the API")
	notificationsListCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "Show only unread notifications")
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "List and acknowledge notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		var list clausedesk.NotificationList

		if notificationsOffline {
			snap, err := withCache(cmd.Context(), logger, func(ctx context.Context, c *cache.Cache) (cache.Snapshot, error) {
				return c.Load(ctx)
			})
			if err != nil {
				return err
			}
			if snap.SavedAt.IsZero() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Offline cache is empty. Run 'clausedesk notifications list' while online first.")
			}
			list = clausedesk.NotificationList{Notifications: snap.Notifications, UnreadCount: snap.Unread()}
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			client, err := getClient(cfg, logger)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			fetched, err := client.Notifications().List(ctx)
			if err != nil {
				return fmt.Errorf("list notifications: %w", err)
			}
			list = *fetched
			saveSnapshot(ctx, logger, list.Notifications)
		}

		if notificationsUnread {
			unread := list.Notifications[:0:0]
			for _, n := range list.Notifications {
				if !n.Read {
					unread = append(unread, n)
				}
			}
			list.Notifications = unread
		}

		if notificationsJSON {
			return printJSON(cmd.OutOrStdout(), list)
		}
		out := cmd.OutOrStdout()
		if len(list.Notifications) == 0 {
			fmt.Fprintln(out, "No notifications.")
			return nil
		}
		for _, n := range list.Notifications {
			fmt.Fprintln(out, formatNotification(n))
		}
		fmt.Fprintf(out, "\n%d unread\n", list.UnreadCount)
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid notification id %q", args[0])
		}
		client, err := clientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := client.Notifications().MarkRead(ctx, id); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked #%d as read\n", id)
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := client.Notifications().MarkAllRead(ctx); err != nil {
			return fmt.Errorf("mark all read: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All notifications marked as read")
		return nil
	},
}

func clientFromConfig() (*clausedesk.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return getClient(cfg, newLogger())
}

// withCache opens the offline cache for the duration of fn.
func withCache[T any](ctx context.Context, logger zerolog.Logger, fn func(context.Context, *cache.Cache) (T, error)) (T, error) {
	var zero T
	path, err := cachePath()
	if err != nil {
		return zero, err
	}
	c, err := cache.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open cache: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache")
		}
	}()
	return fn(ctx, c)
}

// saveSnapshot refreshes the offline cache; failures are only logged.
func saveSnapshot(ctx context.Context, logger zerolog.Logger, ns []clausedesk.Notification) {
	_, err := withCache(ctx, logger, func(ctx context.Context, c *cache.Cache) (struct{}, error) {
		return struct{}{}, c.Save(ctx, ns)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("update offline cache")
	}
}
