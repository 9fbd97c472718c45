package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hray3182/DoseLine/internal/api"
	"github.com/hray3182/DoseLine/internal/bot"
	"github.com/hray3182/DoseLine/internal/database"
	"github.com/hray3182/DoseLine/internal/models"
	"github.com/hray3182/DoseLine/internal/scheduler"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var noTelegram, noHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot and the HTTP turn API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, !noTelegram, !noHTTP)
		},
	}
	cmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "do not start the Telegram front-end")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not start the HTTP turn API")
	return cmd
}

func (a *app) serve(ctx context.Context, telegram, httpAPI bool) error {
	if telegram && a.cfg.TelegramToken == "" {
		a.logger.Warn().Msg("TELEGRAM_TOKEN not set; Telegram front-end disabled")
		telegram = false
	}
	if !telegram && !httpAPI {
		return errors.New("no front-end to serve")
	}

	errCh := make(chan error, 2)

	if telegram {
		tgAPI, err := bot.NewAPI(a.cfg.TelegramToken)
		if err != nil {
			return err
		}
		b := bot.New(tgAPI, a.engine, a.logger)

		sched := scheduler.New(a.store, a.syncer, b, func() string {
			return a.msg.T("THERAPIES_STALE")
		}, a.cfg.WatchInterval, a.logger)
		go sched.Start(ctx)

		go func() {
			if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("bot error: %w", err)
			}
		}()
	}

	var srv *http.Server
	if httpAPI {
		srv = &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           api.NewHandler(a.engine, a.logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info().Str("addr", srv.Addr).Msg("starting http server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
	case runErr = <-errCh:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http server shutdown failed")
		}
	}
	return runErr
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the session table migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURI == "" {
				return errors.New("DATABASE_URI is required")
			}
			db, err := database.New(ctx, cfg.DatabaseURI)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := db.Migrate(ctx, logger)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		},
	}
}

// syncCmd classifies a user's therapies without changing anything.
func syncCmd() *cobra.Command {
	var token, sessionID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Show how the therapies of an access token would be set up (dry run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var records []models.ReminderRecord
			if sessionID != "" {
				st, err := a.store.Get(ctx, sessionID)
				if err != nil {
					return fmt.Errorf("failed to read session: %w", err)
				}
				if st == nil {
					return fmt.Errorf("session %s not found", sessionID)
				}
				records = st.Reminders
				if token == "" {
					token = st.AccessToken
				}
			}
			if token == "" {
				return errors.New("--token or a session with a token is required")
			}

			res, err := a.syncer.Sync(ctx, token, time.Now(), records)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "window %s .. %s\n", res.WindowStart.Format(time.RFC3339), res.WindowEnd.Format(time.RFC3339))
			printTherapies(out, "setup", res.SetupQueue())
			printTherapies(out, "retire", res.RetireQueue())
			printTherapies(out, "unchanged", res.Unchanged)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "backend access token")
	cmd.Flags().StringVar(&sessionID, "session", "", "session whose reminder index to compare against")
	return cmd
}

func printTherapies(out io.Writer, label string, list []models.Therapy) {
	fmt.Fprintf(out, "%s (%d)\n", label, len(list))
	for _, t := range list {
		fmt.Fprintf(out, "  %-24s %-10s %s\n", t.ID, t.EditFlag, t.DrugName)
	}
}
