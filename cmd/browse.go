package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentic-research/mediatree/internal/query"
)

var (
	browseFilter   string
	browseSort     string
	browseStart    int
	browseCount    int
	browseMetadata bool
)

func init() {
	browseCmd.Flags().StringVarP(&browseFilter, "filter", "f", "*", "Comma-separated attribute filter")
	browseCmd.Flags().StringVarP(&browseSort, "sort", "s", "", "Sort criteria, e.g. +dc:title,-dc:date")
	browseCmd.Flags().IntVar(&browseStart, "start", 0, "Starting index")
	browseCmd.Flags().IntVar(&browseCount, "count", 0, "Requested count (0 = all)")
	browseCmd.Flags().BoolVarP(&browseMetadata, "metadata", "m", false, "Browse the object itself instead of its children")
	rootCmd.AddCommand(browseCmd)
}

var browseCmd = &cobra.Command{
	Use:   "browse [objectID]",
	Short: "Browse a catalog container",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		objectID := int64(0)
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("object id %q: %w", args[0], err)
			}
			objectID = id
		}

		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer func() { _ = cat.Close() }()
		if err := cat.materialize(ctx); err != nil {
			return err
		}

		filter := query.ParseFilter(browseFilter)
		var page *query.Page
		if browseMetadata {
			page, err = cat.engine.BrowseMetadata(ctx, objectID, filter)
		} else {
			page, err = cat.engine.BrowseDirectChildren(ctx, objectID, filter, browseStart, browseCount, browseSort)
		}
		if err != nil {
			return err
		}
		printPage(page)
		return nil
	},
}

func printPage(page *query.Page) {
	for _, rec := range page.Records {
		marker := ""
		if rec.RefID != 0 {
			marker = fmt.Sprintf(" -> %d", rec.RefID)
		}
		fmt.Printf("%6d  %-9s  %s%s\n", rec.ID, rec.Kind, rec.Title, marker)
		for field, value := range rec.Fields {
			fmt.Printf("        %s = %s\n", field, value)
		}
	}
	fmt.Printf("returned %d of %d (updateID %d)\n", page.Returned, page.TotalMatches, page.UpdateID)
}
