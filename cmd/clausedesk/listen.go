package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clausedesk/clausedesk-go"
	"github.com/clausedesk/clausedesk-go/internal/cache"
)

var (
	listenJSON    bool
	listenRefresh time.Duration
	listenNoCache bool
)

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "Print events as JSON lines")
	listenCmd.Flags().DurationVar(&listenRefresh, "refresh", 5*time.Minute, "Periodic baseline reload interval (0 disables)")
	listenCmd.Flags().BoolVar(&listenNoCache, "no-cache", false, "Do not read or update the offline cache")
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream live notifications and events",
	Long: "Open a real-time session, print incoming notifications, chat, typing,\n" +
		"read receipts, broadcasts and connection changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		session := clausedesk.NewSession(client, clausedesk.SessionConfig{RefreshInterval: listenRefresh})
		p := &eventPrinter{out: cmd.OutOrStdout(), json: listenJSON}
		p.subscribe(session.Dispatcher)
		session.Store.OnInsert(p.toast)

		var snap *cache.Cache
		if !listenNoCache {
			snap = openListenCache(cmd.Context(), logger, session.Store)
		}
		var saveMu sync.Mutex
		saveAll := func() {
			if snap == nil {
				return
			}
			saveMu.Lock()
			defer saveMu.Unlock()
			if err := snap.Save(context.Background(), session.Store.Notifications()); err != nil {
				logger.Warn().Err(err).Msg("update offline cache")
			}
		}
		if snap != nil {
			session.Store.OnInsert(func(clausedesk.Notification) { saveAll() })
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := session.Start(ctx, cfg.Auth.UserID, cfg.Auth.Token); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		saveAll()
		if !listenJSON {
			fmt.Fprintf(p.out, "%d unread. Listening on %s (Ctrl+C to stop)\n", session.Store.UnreadCount(), client.WebSocketURL())
		}

		wait := gracefulShutdown(ctx, logger, 10*time.Second, map[string]operation{
			"session": func(ctx context.Context) error {
				if err := session.Close(); err != nil {
					return err
				}
				if snap == nil {
					return nil
				}
				saveAll()
				return snap.Close()
			},
		})
		<-wait
		return nil
	},
}

// openListenCache seeds store from the offline snapshot so the unread
// count is available before the first baseline arrives.
func openListenCache(ctx context.Context, logger zerolog.Logger, store *clausedesk.Store) *cache.Cache {
	path, err := cachePath()
	if err != nil {
		logger.Warn().Err(err).Msg("offline cache unavailable")
		return nil
	}
	c, err := cache.Open(path)
	if err != nil {
		logger.Warn().Err(err).Msg("offline cache unavailable")
		return nil
	}
	s, err := c.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("read offline cache")
		return c
	}
	if !s.SavedAt.IsZero() {
		store.Load(s.Notifications)
		logger.Debug().Int("count", len(s.Notifications)).Time("saved_at", s.SavedAt).Msg("seeded from offline cache")
	}
	return c
}

// eventPrinter writes dispatcher events to out, one line each.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *eventPrinter) subscribe(d *clausedesk.Dispatcher) {
	for _, t := range []clausedesk.EventType{
		clausedesk.EventConnectionStatus,
		clausedesk.EventChatMessage,
		clausedesk.EventTyping,
		clausedesk.EventReadReceipt,
		clausedesk.EventBroadcast,
	} {
		d.Subscribe(t, p.event)
	}
}

func (p *eventPrinter) event(env clausedesk.Envelope) {
	if p.json {
		p.writeJSON(env)
		return
	}
	var line string
	switch env.Type {
	case clausedesk.EventConnectionStatus:
		var s clausedesk.ConnectionStatusPayload
		if json.Unmarshal(env.Data, &s) != nil {
			return
		}
		line = "[connection] " + string(s.Status)
		if s.Status == clausedesk.StatusReconnecting {
			line += fmt.Sprintf(" (attempt %d in %s)", s.Attempt, time.Duration(s.DelayMs)*time.Millisecond)
		}
		if s.Error != "" {
			line += ": " + s.Error
		}
	case clausedesk.EventChatMessage:
		var m clausedesk.ChatMessagePayload
		if json.Unmarshal(env.Data, &m) != nil {
			return
		}
		line = fmt.Sprintf("[chat %s] %s: %s", m.RoomID, valueOrDefault(m.SenderID, "?"), m.Content)
	case clausedesk.EventTyping:
		var t clausedesk.TypingPayload
		if json.Unmarshal(env.Data, &t) != nil {
			return
		}
		verb := "stopped typing"
		if t.IsTyping {
			verb = "is typing"
		}
		line = fmt.Sprintf("[typing %s] %s %s", t.RoomID, valueOrDefault(t.UserID, "someone"), verb)
	case clausedesk.EventReadReceipt:
		var r clausedesk.ReadReceiptPayload
		if json.Unmarshal(env.Data, &r) != nil {
			return
		}
		line = fmt.Sprintf("[read %s] %s read %s", r.RoomID, valueOrDefault(r.UserID, "someone"), r.MessageID)
	case clausedesk.EventBroadcast:
		var b clausedesk.BroadcastPayload
		if json.Unmarshal(env.Data, &b) != nil {
			return
		}
		line = "[broadcast] " + b.Message
		if b.Title != "" {
			line = "[broadcast] " + b.Title + ": " + b.Message
		}
	default:
		return
	}
	p.println(line)
}

func (p *eventPrinter) toast(n clausedesk.Notification) {
	if p.json {
		data, err := json.Marshal(n)
		if err != nil {
			return
		}
		p.writeJSON(clausedesk.Envelope{Type: clausedesk.EventNotification, Data: data})
		return
	}
	p.println("[notification] " + formatNotification(n))
}

func (p *eventPrinter) writeJSON(env clausedesk.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	p.println(string(data))
}

func (p *eventPrinter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}
