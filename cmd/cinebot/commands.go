package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/liao/cinema-bot/internal/api"
	"github.com/liao/cinema-bot/internal/catalog"
	"github.com/liao/cinema-bot/internal/pipeline"
)

// --- ask ---

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question from the command line",
		Long: `Ask a single question from the command line. The exchange is recorded
in the history of the given user, exactly as a chat message would be.

Examples:
  cinebot ask "Какие фильмы снял Нолан?"
  cinebot ask --user 42 "Фильмы с Томом Хэнксом"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetInt64("user")

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.svc.Answer(cmd.Context(), userID, strings.Join(args, " "))
			if reply.Text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			}
			return err
		},
	}
	cmd.Flags().Int64("user", 0, "user id the exchange is recorded under")
	return cmd
}

// --- history ---

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent history of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetInt64("user")
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = cfg.History.RecentLimit
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrHistoryRead, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), loadPersona(cfg.PersonaFile).FormatHistory(entries))
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "user id")
	cmd.Flags().Int("limit", 0, "number of entries (default history.recent_limit)")
	return cmd
}

// --- clear ---

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole history of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("user") {
				return errors.New("--user is required")
			}
			userID, _ := cmd.Flags().GetInt64("user")

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context(), userID); err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrHistoryClear, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), loadPersona(cfg.PersonaFile).Replies.HistoryCleared)
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "user id")
	return cmd
}

// --- mcp ---

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve search_films and ask_films tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout 留给 MCP 协议
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stdio := server.NewStdioServer(api.NewMCPServer(a.svc, version))
			slog.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// --- import ---

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Convert a catalog export (csv, json, html) to normalized JSON",
		Long: `Convert a catalog export to the JSON layout read by catalog.format=json.
The input is validated the same way it is at startup.

Examples:
  cinebot import --input kinopoisk-top250.csv --output data/films.json
  cinebot import --input top250.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			if input == "" {
				return errors.New("--input is required")
			}

			table, err := catalog.Load(input, format)
			if err != nil {
				return err
			}

			if output == "" {
				err = catalog.WriteJSON(cmd.OutOrStdout(), table.Films())
			} else {
				var f *os.File
				if f, err = os.Create(output); err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				err = writeCatalog(f, table.Films())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d films\n", table.Len())
			return nil
		},
	}
	cmd.Flags().String("input", "", "catalog file to convert")
	cmd.Flags().String("format", catalog.FormatAuto, "input format: csv, json, html, auto")
	cmd.Flags().String("output", "", "output file (default stdout)")
	return cmd
}

// writeCatalog 写入并关闭 wc，关闭失败同样视为写入失败
func writeCatalog(wc io.WriteCloser, films []catalog.Film) error {
	if err := catalog.WriteJSON(wc, films); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
