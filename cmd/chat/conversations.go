package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage stored conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations for the signed-in identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if !a.manager.Snapshot().Authenticated {
				return errors.New("a credential is required (set API_TOKEN)")
			}
			a.manager.FetchConversations(cmd.Context())
			for _, c := range a.manager.Snapshot().Conversations {
				fmt.Printf("%s\t%s\t%s\n", c.ID, c.UpdatedAt.Format(time.RFC3339), c.Title)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete one or more conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			m := a.manager
			m.FetchConversations(cmd.Context())

			if len(args) == 1 {
				return m.Delete(cmd.Context(), args[0])
			}
			for _, id := range args {
				m.ToggleSelect(id)
			}
			return m.DeleteSelected(cmd.Context())
		},
	})

	return cmd
}
