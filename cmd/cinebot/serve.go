package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liao/cinema-bot/internal/api"
	"github.com/liao/cinema-bot/internal/bot"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot and, if enabled, the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, os.Stdout)
			if err != nil {
				return err
			}
			runBot, _ := cmd.Flags().GetBool("bot")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var b *bot.Bot
			if runBot {
				b = bot.New(cfg.Bot, a.svc, a.persona, cfg.History.RecentLimit)
				// ZeroBot 阻塞直到进程退出
				go b.Run(ctx)
			}

			g, gctx := errgroup.WithContext(ctx)
			if cfg.HTTP.Enabled {
				srv := &http.Server{
					Addr:              cfg.HTTP.Addr,
					Handler:           api.NewHandler(a.svc),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					slog.Info("http api listening", "addr", cfg.HTTP.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})

			err = g.Wait()
			slog.Info("shutting down...")
			if b != nil {
				b.Stop()
			}
			return err
		},
	}
	cmd.Flags().Bool("bot", true, "connect to NapCat and serve chat messages")
	return cmd
}
