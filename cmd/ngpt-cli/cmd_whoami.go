package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ngpt-server/internal/client"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account behind the token",
	Long:  `Ask the relay to verify the configured token and remember the signed-in user.`,
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	claim, err := newRelayClient(log).Identity(ctx, opts.Token)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:     %s\n", claim.Name)
	fmt.Fprintf(out, "Email:    %s\n", claim.Email)
	fmt.Fprintf(out, "User ID:  %s\n", claim.SubjectID)
	fmt.Fprintf(out, "Verified: %t\n", claim.EmailVerified)
	if !claim.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "Expires:  %s\n", claim.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	}

	fileStore := client.NewFileStore(opts.StoreFile)
	state, err := fileStore.Load(ctx)
	if err != nil {
		return err
	}
	store := client.NewStore(state)
	unsubscribe := client.PersistOnChange(store, fileStore, log)
	defer unsubscribe()
	store.SetUser(&client.User{Name: claim.Name, Email: claim.Email})
	return nil
}
