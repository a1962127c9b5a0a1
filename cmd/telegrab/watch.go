package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telegrab/telegrab/internal/engine"
	"github.com/telegrab/telegrab/internal/scheduler"
	"github.com/telegrab/telegrab/internal/telegram"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		interval  time.Duration
		withMedia bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically sync every configured chat",
		Long: "Runs an incremental sync of every configured chat on a fixed\n" +
			"interval until interrupted. Chats without a checkpoint get a full\n" +
			"sync on their first pass.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Telegram.ChatIDs) == 0 {
				return fmt.Errorf("no chats configured (set telegram.chat_ids)")
			}
			client, err := a.newClient(a.cfg.Telegram.ChatIDs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pass := func() { a.watchPass(ctx, client, withMedia) }

			sched, err := scheduler.New(a.logger)
			if err != nil {
				return err
			}
			if err := sched.AddEvery("sync-all", interval, pass); err != nil {
				return err
			}

			a.logger.Info("Watch started",
				"chats", len(a.cfg.Telegram.ChatIDs), "interval", interval)
			pass() // first pass runs immediately, not after one interval
			sched.Start()

			<-ctx.Done()
			a.logger.Info("Watch stopping")
			return sched.Stop()
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "time between sync passes")
	cmd.Flags().BoolVar(&withMedia, "media", false, "download media payloads")
	return cmd
}

// watchPass syncs every configured chat once. Failures are logged per
// entity; one broken chat never stops the others.
func (a *app) watchPass(ctx context.Context, client telegram.Client, withMedia bool) {
	entities, err := client.ListEntities(ctx)
	if err != nil {
		a.logger.Error("Failed to list chats", "error", err)
		return
	}

	for _, ent := range entities {
		if ctx.Err() != nil {
			return
		}
		opts := engine.Options{
			DownloadMedia: withMedia,
			Incremental:   true,
			PageSize:      a.cfg.Backup.PageSize,
			MediaWorkers:  a.cfg.Backup.MediaWorkers,
		}
		res, err := a.syncEntity(ctx, ent, client, opts)
		if errors.Is(err, engine.ErrNoCheckpoint) {
			opts.Incremental = false
			res, err = a.syncEntity(ctx, ent, client, opts)
		}
		if err != nil {
			a.logger.Error("Sync failed",
				"entity_id", ent.ID, "entity", ent.Name, "error", err)
			continue
		}
		if res.Processed > 0 || res.Skipped > 0 {
			a.logger.Info("Sync pass complete",
				"entity_id", ent.ID,
				"entity", ent.Name,
				"processed", res.Processed,
				"checkpoint", res.Checkpoint)
		}
	}
}
