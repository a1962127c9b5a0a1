package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telegrab/telegrab/internal/archive"
	"github.com/telegrab/telegrab/internal/engine"
	"github.com/telegrab/telegrab/internal/media"
	"github.com/telegrab/telegrab/internal/telegram"
)

func newSyncCommand(a *app) *cobra.Command {
	var (
		limit       int
		withMedia   bool
		incremental bool
	)

	cmd := &cobra.Command{
		Use:   "sync <chat-id>",
		Short: "Archive a chat's message history",
		Long: "Fetches the chat's history in batches and commits each batch to\n" +
			"the archive database. With --incremental only messages newer than\n" +
			"the stored checkpoint are fetched.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", args[0], err)
			}

			client, err := a.newClient([]int64{chatID})
			if err != nil {
				return err
			}
			ent, err := resolveEntity(cmd.Context(), client, chatID)
			if err != nil {
				return err
			}

			res, err := a.syncEntity(cmd.Context(), ent, client, engine.Options{
				Limit:         limit,
				DownloadMedia: withMedia,
				Incremental:   incremental,
				PageSize:      a.cfg.Backup.PageSize,
				MediaWorkers:  a.cfg.Backup.MediaWorkers,
			})
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s: %d messages archived, %d skipped, %d media downloaded, %d media skipped, checkpoint %d\n",
					ent.Name, res.Processed, res.Skipped, res.MediaDownloaded, res.MediaSkipped, res.Checkpoint)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages to fetch (0 = unbounded)")
	cmd.Flags().BoolVar(&withMedia, "media", false, "download media payloads")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "resume from the stored checkpoint")
	return cmd
}

// resolveEntity fetches the chat's metadata through the client. A chat the
// bot cannot see is an error here, not a skip.
func resolveEntity(ctx context.Context, client telegram.Client, chatID int64) (telegram.EntityDescriptor, error) {
	entities, err := client.ListEntities(ctx)
	if err != nil {
		return telegram.EntityDescriptor{}, err
	}
	for _, ent := range entities {
		if ent.ID == chatID {
			return ent, nil
		}
	}
	return telegram.EntityDescriptor{}, fmt.Errorf("chat %d: %w", chatID, telegram.ErrEntityInaccessible)
}

// syncEntity wires the archive, store, media store, and engine for one
// entity and runs a single sync pass.
func (a *app) syncEntity(ctx context.Context, ent telegram.EntityDescriptor, client telegram.Client, opts engine.Options) (*engine.Result, error) {
	layout, err := archive.Open(a.cfg.Backup.Dir, ent)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := a.openStore(layout)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	cfg := engine.Config{
		Client: client,
		Store:  store,
		Layout: layout,
		Policy: a.floodPolicy(),
		Logger: a.logger,
	}
	if opts.DownloadMedia {
		if err := layout.EnsureMediaDir(); err != nil {
			return nil, err
		}
		cfg.Media = media.NewStore(layout.Dir, layout.MediaDir, store, client, a.floodPolicy(), nil, a.logger)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return eng.Sync(ctx, ent, opts)
}
