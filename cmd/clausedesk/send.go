package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clausedesk/clausedesk-go"
)

var (
	sendTimeout time.Duration
	typingStop  bool
	chatWait    bool
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.AddCommand(sendTypingCmd)
	sendCmd.AddCommand(sendReceiptCmd)
	sendCmd.AddCommand(sendChatCmd)

	sendCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 15*time.Second, "Time allowed to connect and send")
	sendTypingCmd.Flags().BoolVar(&typingStop, "stop", false, "Send a stopped-typing indicator")
	sendChatCmd.Flags().BoolVar(&chatWait, "wait", true, "Wait for the server echo and print its message ID")
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single real-time message",
}

var sendTypingCmd = &cobra.Command{
	Use:   "typing <room-id>",
	Short: "Send a typing indicator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(ctx context.Context, d *clausedesk.Dispatcher, out *clausedesk.Outbound) error {
			if err := out.SendTyping(ctx, args[0], !typingStop); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Typing indicator sent")
			return nil
		})
	},
}

var sendReceiptCmd = &cobra.Command{
	Use:   "receipt <room-id> <message-id>",
	Short: "Send a read receipt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(ctx context.Context, d *clausedesk.Dispatcher, out *clausedesk.Outbound) error {
			if err := out.SendReadReceipt(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Read receipt sent")
			return nil
		})
	},
}

var sendChatCmd = &cobra.Command{
	Use:   "chat <room-id> <message...>",
	Short: "Send a chat message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args[1:], " ")
		return withConnection(cmd.Context(), func(ctx context.Context, d *clausedesk.Dispatcher, out *clausedesk.Outbound) error {
			echo := make(chan clausedesk.ChatMessagePayload, 8)
			tok := clausedesk.On(d, clausedesk.EventChatMessage, func(m clausedesk.ChatMessagePayload) {
				select {
				case echo <- m:
				default:
				}
			})
			defer d.Unsubscribe(tok)

			clientID, err := out.SendChatMessage(ctx, args[0], content)
			if err != nil {
				return err
			}
			if !chatWait {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent (client id %s)\n", clientID)
				return nil
			}
			for {
				select {
				case m := <-echo:
					if m.ClientID != clientID {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s to %s\n", m.ID, m.RoomID)
					return nil
				case <-ctx.Done():
					return fmt.Errorf("sent, but no echo received: %w", ctx.Err())
				}
			}
		})
	},
}

// withConnection connects a one-shot Manager, runs fn once authenticated
// and disconnects. Reconnects are disabled.
func withConnection(parent context.Context, fn func(context.Context, *clausedesk.Dispatcher, *clausedesk.Outbound) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireIdentity(cfg); err != nil {
		return err
	}
	logger := newLogger()
	client, err := getClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, sendTimeout)
	defer cancel()

	d := clausedesk.NewDispatcher(logger)
	m := client.NewManager(d, clausedesk.RealtimeConfig{MaxReconnectAttempts: -1})
	status := make(chan clausedesk.ConnectionStatusPayload, 8)
	clausedesk.On(d, clausedesk.EventConnectionStatus, func(s clausedesk.ConnectionStatusPayload) {
		select {
		case status <- s:
		default:
		}
	})
	defer func() {
		if err := m.Disconnect(); err != nil {
			logger.Debug().Err(err).Msg("disconnect")
		}
	}()

	if err := m.Connect(ctx, cfg.Auth.UserID, cfg.Auth.Token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for {
		select {
		case s := <-status:
			switch s.Status {
			case clausedesk.StatusConnected:
				return fn(ctx, d, clausedesk.NewOutbound(m))
			case clausedesk.StatusFailed:
				return errors.New("connection failed: " + valueOrDefault(s.Error, "unknown error"))
			}
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		}
	}
}
