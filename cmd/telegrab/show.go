package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telegrab/telegrab/internal/database"
)

func newShowCommand(a *app) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print archived messages, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", args[0], err)
			}

			layout, err := a.openArchiveByID(chatID)
			if err != nil {
				return err
			}
			store, closeStore, err := a.openStore(layout)
			if err != nil {
				return err
			}
			defer closeStore()

			total, err := store.CountMessages(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			msgs, err := store.FetchMessages(cmd.Context(), chatID, limit, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d messages archived\n\n", total)
			for i := range msgs {
				printMessage(out, &msgs[i])
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of newest messages to skip")
	return cmd
}

func printMessage(out io.Writer, msg *database.Message) {
	sender := msg.SenderName.String
	if sender == "" {
		sender = "?"
	}
	fmt.Fprintf(out, "[%d] %s  %s\n", msg.ID, formatDate(msg.Date), sender)
	if msg.Text.Valid && msg.Text.String != "" {
		fmt.Fprintf(out, "    %s\n", msg.Text.String)
	}
	if msg.MediaFile.Valid && msg.MediaFile.String != "" {
		fmt.Fprintf(out, "    media: %s\n", msg.MediaFile.String)
	}
	fmt.Fprintln(out)
}
