package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/pkg/config"
)

var (
	flagInitForce bool
	flagInitPath  string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a commented default configuration",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagInitPath
		if path == "" {
			var err error
			if path, err = config.InitConfig(flagInitForce); err != nil {
				return err
			}
		} else if err := config.InitConfigToPath(path, flagInitForce); err != nil {
			return err
		}

		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagJSON {
			return printJSON(cfg)
		}
		out, err := config.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().StringVar(&flagInitPath, "path", "", "Write to this path instead of the default location")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
