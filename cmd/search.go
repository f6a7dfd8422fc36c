package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentic-research/mediatree/internal/query"
)

var (
	searchFilter string
	searchSort   string
	searchStart  int
	searchCount  int
)

func init() {
	searchCmd.Flags().StringVarP(&searchFilter, "filter", "f", "*", "Comma-separated attribute filter")
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", "", "Sort criteria")
	searchCmd.Flags().IntVar(&searchStart, "start", 0, "Starting index")
	searchCmd.Flags().IntVar(&searchCount, "count", 0, "Requested count (0 = all)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [containerID] [criteria]",
	Short: "Search a catalog subtree",
	Long: `Search a catalog subtree with UPnP-style criteria, e.g.:

  mediatree search 0 '(upnp:class derivedfrom "object.item.audioItem") and (dc:title contains "love")'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		containerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("container id %q: %w", args[0], err)
		}

		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer func() { _ = cat.Close() }()
		if err := cat.materialize(ctx); err != nil {
			return err
		}

		page, err := cat.engine.Search(ctx, containerID, args[1],
			query.ParseFilter(searchFilter), searchStart, searchCount, searchSort)
		if err != nil {
			return err
		}
		printPage(page)
		return nil
	},
}
