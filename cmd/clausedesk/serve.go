package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/clausedesk/clausedesk-go/internal/devserver"
)

var (
	serveAddr        string
	serveTokens      map[string]string
	serveAuthTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().StringToStringVar(&serveTokens, "token", map[string]string{"dev-token": "dev-user"}, "Accepted token=userID pairs")
	serveCmd.Flags().DurationVar(&serveAuthTimeout, "auth-timeout", 10*time.Second, "Close sockets that do not authenticate in time")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local ClauseDesk-compatible dev server",
	Long: "Serve the notifications REST API and the real-time socket in memory.\n" +
		"Point the client at it with: clausedesk config set default.base_url http://127.0.0.1:8080",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		if debugLogs {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		srv := devserver.New(devserver.Config{
			Tokens:      serveTokens,
			AuthTimeout: serveAuthTimeout,
			Logger:      logger,
		})
		httpSrv := &http.Server{
			Addr:              serveAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		serveErr := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", serveAddr).Int("tokens", len(serveTokens)).Msg("dev server listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				cancel()
			}
		}()

		wait := gracefulShutdown(ctx, logger, 10*time.Second, map[string]operation{
			"http": func(ctx context.Context) error {
				return httpSrv.Shutdown(ctx)
			},
			"sockets": func(ctx context.Context) error {
				srv.DropConnections()
				return nil
			},
		})
		<-wait

		select {
		case err := <-serveErr:
			return fmt.Errorf("serve: %w", err)
		default:
			return nil
		}
	},
}
