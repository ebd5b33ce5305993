package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ngpt-server/internal/client"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

var conversationsSelectCmd = &cobra.Command{
	Use:   "select [id]",
	Short: "Make a conversation current",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsSelect,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsSelectCmd)
}

func runConversationsList(cmd *cobra.Command, _ []string) error {
	state, err := client.NewFileStore(opts.StoreFile).Load(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(state.Conversations) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return nil
	}
	for _, conv := range state.Conversations {
		marker := " "
		if conv.ID == state.CurrentConversationID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-36s  %s  %3d turns  %s\n",
			marker, conv.ID, conv.UpdatedAt.Local().Format("2006-01-02 15:04"), len(conv.Turns), conv.Name)
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(store *client.Store) error {
		return store.Delete(args[0])
	})
}

func runConversationsSelect(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(store *client.Store) error {
		return store.Select(args[0])
	})
}

// withStore loads the store, applies fn and saves the result.
func withStore(cmd *cobra.Command, fn func(*client.Store) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	fileStore := client.NewFileStore(opts.StoreFile)
	state, err := fileStore.Load(cmd.Context())
	if err != nil {
		return err
	}
	store := client.NewStore(state)
	unsubscribe := client.PersistOnChange(store, fileStore, log)
	defer unsubscribe()
	return fn(store)
}
