package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/clausedesk/clausedesk-go"
	"github.com/clausedesk/clausedesk-go/internal/logging"
)

var errNoToken = errors.New("no access token: run 'clausedesk init <token>' first")

func defaultBaseURL() string {
	return clausedesk.DefaultBaseURL
}

func newLogger() zerolog.Logger {
	return logging.New(logging.Options{Pretty: prettyLogs, Debug: debugLogs, Out: os.Stderr})
}

// getClient builds an authenticated client from the config file.
func getClient(cfg *Config, logger zerolog.Logger) (*clausedesk.Client, error) {
	if cfg.Auth.Token == "" {
		return nil, errNoToken
	}
	opts := []clausedesk.ClientOption{clausedesk.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, clausedesk.WithBaseURL(cfg.Default.BaseURL))
	}
	return clausedesk.NewClient(cfg.Auth.Token, opts...), nil
}

// requireIdentity checks the settings needed for the socket handshake.
func requireIdentity(cfg *Config) error {
	if cfg.Auth.Token == "" {
		return errNoToken
	}
	if cfg.Auth.UserID == "" {
		return errors.New("no user ID: run 'clausedesk config set auth.user_id <id>'")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskKey shows the first 4 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func formatNotification(n clausedesk.Notification) string {
	mark := " "
	if !n.Read {
		mark = "*"
	}
	line := fmt.Sprintf("%s #%-5d %-8s %s  %s", mark, n.ID, n.Kind, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title)
	if n.Message != "" {
		line += " - " + n.Message
	}
	if n.ActionLink != "" {
		line += " (" + n.ActionLink + ")"
	}
	return line
}
