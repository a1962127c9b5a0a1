package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newChatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List the configured chats and their accessibility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Telegram.ChatIDs) == 0 {
				return fmt.Errorf("no chats configured (set telegram.chat_ids)")
			}
			client, err := a.newClient(a.cfg.Telegram.ChatIDs)
			if err != nil {
				return err
			}
			entities, err := client.ListEntities(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tNAME")
			for _, ent := range entities {
				fmt.Fprintf(w, "%d\t%s\t%s\n", ent.ID, ent.Kind, ent.Name)
			}
			return w.Flush()
		},
	}
}
