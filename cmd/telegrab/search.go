package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSearchCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <chat-id> <query>",
		Short: "Search archived message text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", args[0], err)
			}
			query := args[1]

			layout, err := a.openArchiveByID(chatID)
			if err != nil {
				return err
			}
			store, closeStore, err := a.openStore(layout)
			if err != nil {
				return err
			}
			defer closeStore()

			msgs, err := store.SearchMessages(cmd.Context(), chatID, query, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "no messages matching %q\n", query)
				return nil
			}
			for i := range msgs {
				printMessage(out, &msgs[i])
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of matches to print")
	return cmd
}
