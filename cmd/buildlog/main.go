// Command buildlog records, exports, and uploads AI coding session
// buildlogs. The serve subcommand runs the MCP server on stdio for
// editor integration; the rest are one-shot operations against the
// local store and the buildlog.ai API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/buildlog-ai/buildlog"
	"github.com/buildlog-ai/buildlog/internal/config"
	"github.com/buildlog-ai/buildlog/internal/exporter"
	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/uploader"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// .env first so a BUILDLOG_LOG_LEVEL set there is honored too.
	_ = godotenv.Load()
	level := slog.LevelInfo
	if cfg, err := config.Load(); err == nil {
		level = cfg.SlogLevel()
	}
	// MCP owns stdout; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd(logger).ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func rootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "buildlog",
		Short:         "Record and share AI coding session buildlogs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCmd(logger),
		exportCmd(logger),
		uploadCmd(logger),
		listCmd(logger),
		deleteCmd(logger),
		infoCmd(logger),
		pingCmd(logger),
		validateKeyCmd(logger),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the buildlog version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// newApp assembles the runtime with CLI-wide defaults.
func newApp(logger *slog.Logger, extra ...buildlog.Option) (*buildlog.App, error) {
	opts := append([]buildlog.Option{
		buildlog.WithLogger(logger),
		buildlog.WithVersion(version),
	}, extra...)
	return buildlog.New(opts...)
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	var watchDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []buildlog.Option
			if watchDir != "" {
				extra = append(extra, buildlog.WithWatchDir(watchDir))
			}
			app, err := newApp(logger, extra...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&watchDir, "watch", "", "workspace directory to watch for file changes")
	return cmd
}

func exportCmd(logger *slog.Logger) *cobra.Command {
	var (
		title  string
		format string
		lastN  int
	)
	cmd := &cobra.Command{
		Use:   "export <history.json>",
		Short: "Export a conversation history file into a saved buildlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var history exporter.History
			if err := json.Unmarshal(raw, &history); err != nil {
				return fmt.Errorf("parse history: %w", err)
			}

			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			doc, err := app.Exporter().Export(history, exporter.Options{
				Title:  title,
				Format: model.Format(format),
				LastN:  lastN,
			})
			if err != nil {
				return err
			}
			if err := app.Store().Save(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Printf("exported %s  %q  (%d steps)\n", doc.Metadata.ID, doc.Metadata.Title, doc.Metadata.StepCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "explicit title (inferred when omitted)")
	cmd.Flags().StringVar(&format, "format", "slim", "output format: slim or full")
	cmd.Flags().IntVar(&lastN, "last-n", 0, "keep only the final N messages")
	return cmd
}

func uploadCmd(logger *slog.Logger) *cobra.Command {
	var share bool
	cmd := &cobra.Command{
		Use:   "upload <id>",
		Short: "Upload a saved buildlog to buildlog.ai",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			doc, err := app.Store().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var result uploader.UploadResult
			if share {
				result = app.Uploader().CreateShareLink(cmd.Context(), doc)
			} else {
				result = app.Uploader().Upload(cmd.Context(), doc)
			}
			if !result.OK {
				return fmt.Errorf("upload failed (%s): %s", result.Err.Code, result.Err.Message)
			}
			fmt.Printf("uploaded %s\n  url:   %s\n  short: %s\n", result.ID, result.URL, result.ShortURL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&share, "share", false, "create a public share link")
	return cmd
}

func listCmd(logger *slog.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List locally saved buildlogs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			entries, err := app.Store().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no saved buildlogs")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s  %-4s  %s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.Format, e.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func deleteCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a locally saved buildlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			if err := app.Store().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func infoCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show the server's metadata for an uploaded buildlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			result := app.Uploader().GetInfo(cmd.Context(), args[0])
			if !result.OK {
				return fmt.Errorf("info failed (%s): %s", result.Err.Code, result.Err.Message)
			}
			out, _ := json.MarshalIndent(result.Info, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func pingCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check buildlog.ai availability and latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			result := app.Uploader().Ping(cmd.Context())
			if !result.OK {
				return fmt.Errorf("ping failed (%s): %s", result.Err.Code, result.Err.Message)
			}
			fmt.Printf("ok (%s)\n", result.Latency.Round(time.Millisecond))
			return nil
		},
	}
}

func validateKeyCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-key",
		Short: "Check whether the configured API key is accepted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(cmd.Context()) }()

			result := app.Uploader().ValidateAPIKey(cmd.Context())
			if result.Err != nil {
				return fmt.Errorf("validation failed (%s): %s", result.Err.Code, result.Err.Message)
			}
			if result.Valid {
				fmt.Println("API key is valid")
				return nil
			}
			fmt.Println("API key was rejected")
			return nil
		},
	}
}
