// Command pf is the permitflow CLI: scraping, indexing, matching, and the
// long-running distribution daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	permitflow "github.com/permitflow/permitflow"
	"github.com/permitflow/permitflow/internal/config"
	"github.com/permitflow/permitflow/internal/debug"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/storage/sqlite"
	"github.com/permitflow/permitflow/internal/telemetry"
)

var (
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	logFileFlag string
)

var rootCmd = &cobra.Command{
	Use:           "pf",
	Short:         "Construction permit lead distribution",
	Version:       permitflow.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		if err := config.Initialize(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logFileFlag != "" {
			cfg.LogFile = logFileFlag
		}
		logger = newLogger(cfg.LogFile)
		slog.SetDefault(logger)

		if err := telemetry.Init(cmd.Context(), "pf", permitflow.Version); err != nil {
			logger.Warn("telemetry init failed", "error", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("store close failed", "error", err)
			}
			store = nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

// newLogger builds the process logger: rotated file when configured, stderr
// otherwise. Verbose lowers the level to debug.
func newLogger(logFile string) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	level := slog.LevelInfo
	if debug.Enabled() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the permit database on first use. When the client database
// is configured at a different path, profile reads go there instead.
func openStore(ctx context.Context) (storage.Store, error) {
	if store != nil {
		return store, nil
	}
	st, err := sqlite.New(ctx, cfg.PermitsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open permit store: %w", err)
	}
	if cfg.ClientsDBPath != "" && cfg.ClientsDBPath != cfg.PermitsDBPath {
		cs, err := sqlite.New(ctx, cfg.ClientsDBPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open client store: %w", err)
		}
		store = storage.NewSplitStore(st, cs)
		return store, nil
	}
	store = st
	return store, nil
}

// stdoutIsTTY gates human-oriented formatting like progress lines.
func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "write logs to a rotated file instead of stderr")

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
