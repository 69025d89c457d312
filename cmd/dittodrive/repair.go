package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/repair"
)

var (
	flagRepairDryRun   bool
	flagRepairPageSize int
	flagRepairRate     uint
	flagRepairSpaces   []string
)

var repairCmd = &cobra.Command{
	Use:   "repair <job>",
	Short: "Run a consistency repair job",
	Long: `Scan file rows and rewrite derived data that drifted.

Jobs: ` + strings.Join(repair.Names(), ", ") + `

  dittodrive repair purge-due --space acme/docs --dry-run
  dittodrive repair aggregate-metrics --space acme/docs --space acme/photos`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: repair.Names(),
	RunE: func(cmd *cobra.Command, args []string) error {
		spaces := make([]metadata.Space, 0, len(flagRepairSpaces))
		for _, ref := range flagRepairSpaces {
			space, err := parseSpaceRef(ref)
			if err != nil {
				return err
			}
			spaces = append(spaces, space)
		}

		opts := repair.Options{
			DryRun:    flagRepairDryRun,
			PageSize:  cfg.Repair.PageSize,
			RateLimit: cfg.Repair.Rate,
			Spaces:    spaces,
		}
		if cmd.Flags().Changed("page-size") {
			opts.PageSize = flagRepairPageSize
		}
		if cmd.Flags().Changed("rate") {
			opts.RateLimit = flagRepairRate
		}

		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		job, err := repair.Lookup(args[0], rt.RepairEnv())
		if err != nil {
			return err
		}
		stats, err := rt.Repair.Run(cmd.Context(), job, opts)
		if err != nil {
			return fmt.Errorf("repair %s: %w", args[0], err)
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
	repairCmd.Flags().BoolVar(&flagRepairDryRun, "dry-run", false, "Report changes without writing")
	repairCmd.Flags().IntVar(&flagRepairPageSize, "page-size", 0, "Rows read per query (default: repair.page_size)")
	repairCmd.Flags().UintVar(&flagRepairRate, "rate", 0, "Max rows scanned per second, 0 = unlimited (default: repair.rate)")
	repairCmd.Flags().StringArrayVar(&flagRepairSpaces, "space", nil, "Space to scan as <tenant>/<space> (repeatable, required)")
	_ = repairCmd.MarkFlagRequired("space")
	rootCmd.AddCommand(repairCmd)
}
