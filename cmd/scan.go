package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	scanWatch bool
	scanGC    bool
)

func init() {
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Keep watching collection folders after the scan")
	scanCmd.Flags().BoolVar(&scanGC, "gc", false, "Remove records outside the configured folders")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan collection folders into the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cat, err := openCatalog()
		if err != nil {
			return err
		}
		defer func() { _ = cat.Close() }()

		if scanGC {
			var allowed []string
			for _, col := range cat.cfg.Collections {
				allowed = append(allowed, col.Folders...)
			}
			removed, err := cat.reg.GarbageOutsideFolders(ctx, cat.st, allowed)
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Printf("removed %s\n", p)
			}
		}

		for _, col := range cat.cfg.Collections {
			sc := cat.scanners[col.Name]
			for _, folder := range col.Folders {
				fmt.Printf("scanning %s (%s)\n", folder, col.Name)
				if err := sc.ScanFolder(ctx, folder); err != nil {
					return fmt.Errorf("scan %s: %w", folder, err)
				}
			}
		}

		if !scanWatch {
			return nil
		}
		for _, col := range cat.cfg.Collections {
			fmt.Printf("watching %s\n", col.Name)
		}
		return watchCollections(ctx, cat)
	},
}
