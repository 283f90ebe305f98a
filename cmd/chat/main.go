// Package main is the entry point for the chat client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the assistant service",
		Long:          "Interactive conversational client: streams assistant responses, keeps durable history for signed-in users, and falls back to an in-memory guest session otherwise.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd)
		},
	}
	root.AddCommand(newConversationsCmd())
	return root
}
