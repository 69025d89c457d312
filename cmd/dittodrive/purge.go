package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagPurgeDryRun bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge reconciler operations",
}

var purgeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Hard-delete every trashed file whose retention elapsed",
	Long: `Run one purge reconciler pass now and print its statistics.

  dittodrive purge run             Purge due files
  dittodrive purge run --dry-run   Report what would be purged`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPurgeDryRun {
			cfg.Purge.DryRun = true
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		stats, err := rt.Purge.RunNow(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge run: %w", err)
		}
		if flagJSON {
			return printJSON(stats)
		}
		fmt.Println(stats.Summary())
		for _, e := range stats.Errors {
			fmt.Println("  error:", e)
		}
		return nil
	},
}

func init() {
	purgeRunCmd.Flags().BoolVar(&flagPurgeDryRun, "dry-run", false, "Log what would be purged without writing")
	purgeCmd.AddCommand(purgeRunCmd)
	rootCmd.AddCommand(purgeCmd)
}
