// Package cmd implements the CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bparchive",
	Short: "bparchive - Dectris stream to minicbf archiver",
	Long: `bparchive connects to the stream interface of a Dectris detector control
unit, receives image series in real time, and writes one minicbf file per
frame. It is intended to run for the duration of a beamline session, idling
between series.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/bparchive/config.json",
		"config file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
}
