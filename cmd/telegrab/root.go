package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/telegrab/telegrab/internal/archive"
	"github.com/telegrab/telegrab/internal/config"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/flood"
	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/telegram"
)

// app carries state shared by all subcommands, populated by the root
// command's PersistentPreRunE before any subcommand runs.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "telegrab",
		Short: "Incremental Telegram chat history archiver",
		Long: "telegrab archives Telegram chat histories into per-chat SQLite\n" +
			"databases with deduplicated media, resuming from a checkpoint on\n" +
			"every run.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			a.logger = logger.New(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "./config.yaml", "path to configuration file")

	root.AddCommand(
		newChatsCommand(a),
		newSyncCommand(a),
		newShowCommand(a),
		newSearchCommand(a),
		newWatchCommand(a),
	)
	return root
}

// newClient creates a Bot API client scoped to the given chat IDs. The
// token is required here, not at config load, so read-only commands work
// without one.
func (a *app) newClient(chatIDs []int64) (*telegram.BotAPIClient, error) {
	if a.cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token not configured (set telegram.token or TELEGRAB_TELEGRAM_TOKEN)")
	}
	return telegram.NewBotAPIClient(a.cfg.Telegram.Token, chatIDs, a.cfg.Telegram.RequestTimeout, a.logger)
}

func (a *app) floodPolicy() flood.Policy {
	return flood.Policy{
		Margin:      a.cfg.Flood.Margin,
		BaseDelay:   a.cfg.Flood.BaseDelay,
		MaxDelay:    a.cfg.Flood.MaxDelay,
		MaxAttempts: a.cfg.Flood.MaxAttempts,
	}
}

// openStore opens the archive database and returns the store together with
// a close function the caller must defer.
func (a *app) openStore(layout *archive.Layout) (database.Store, func(), error) {
	db, err := database.NewDB(layout.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	closeFn := func() { database.CloseDB(db) }
	return database.NewStore(db, a.logger), closeFn, nil
}

// openArchiveByID locates an existing archive for read-only commands.
func (a *app) openArchiveByID(chatID int64) (*archive.Layout, error) {
	return archive.Find(a.cfg.Backup.Dir, chatID)
}

func formatDate(raw string) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Local().Format("2006-01-02 15:04")
	}
	return raw
}
