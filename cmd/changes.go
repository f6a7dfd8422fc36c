package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(changesCmd)
}

var changesCmd = &cobra.Command{
	Use:   "changes [token]",
	Short: "Show the content-change token, or the changes since a token",
	Long: `Without arguments, print the current content-change token. With a
token from a previous run, list the adds, updates and deletes recorded
since that token.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer func() { _ = cat.Close() }()

		if len(args) == 0 {
			token, err := cat.tracker.CurrentToken(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("token %d\n", token)
			return nil
		}

		since, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("token %q: %w", args[0], err)
		}
		changes, err := cat.tracker.ChangesSince(ctx, since)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			fmt.Printf("%-7s %s\n", ch.Op, ch.Path)
		}
		fmt.Printf("%d changes since token %d\n", len(changes), since)
		return nil
	},
}
