package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"lscat.org/bparchive/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file and print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		src := cfg.Archiver.Source
		fmt.Printf("config %s is valid\n", configFile)
		fmt.Printf("  zmq_push_socket       = %s\n", src.ZMQPushSocket)
		fmt.Printf("  read_buffer_mb        = %d\n", src.ReadBufferMB)
		fmt.Printf("  poll_interval         = %ds\n", src.PollInterval)
		fmt.Printf("  workers               = %d\n", src.Workers)
		fmt.Printf("  using_header_appendix = %t\n", src.UsingHeaderAppendix)
		fmt.Printf("  using_image_appendix  = %t\n", src.UsingImageAppendix)
		fmt.Printf("  strict                = %t\n", src.Strict)
		fmt.Printf("  output_directory      = %s\n", cfg.Archiver.Output.Directory)
		return nil
	},
}
