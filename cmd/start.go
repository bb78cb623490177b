package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lscat.org/bparchive/internal/config"
	"lscat.org/bparchive/internal/log"
	"lscat.org/bparchive/internal/metrics"
	"lscat.org/bparchive/internal/sink/cbf"
	source "lscat.org/bparchive/internal/source/dectris"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the archiver in the foreground",
	Long: `
Start the archiver: connect to the DCU push socket and convert incoming image
series to minicbf files until interrupted.

Examples:
  bparchive start                          # /etc/bparchive/config.json
  bparchive start -c ./config.json         # explicit config file
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := log.Init(cfg.Log); err != nil {
			return err
		}
		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	logger := log.GetLogger()

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		srv.Start()
		defer srv.Stop(context.Background())
	}

	sink := cbf.New(cfg.Archiver)
	streamer := source.New(sink, cfg.Archiver.Source)

	// The handler only stores the shutdown flag; everything else here
	// stays out of signal context. A second signal terminates at once.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		fmt.Fprintf(os.Stderr, "received %q; shutdown will complete after any "+
			"currently-running image series\n", sig)
		streamer.Shutdown()
		<-sigs
		fmt.Fprintln(os.Stderr, "second signal received, terminating immediately")
		os.Exit(1)
	}()

	if err := streamer.Run(); err != nil {
		return err
	}
	logger.Info("done")
	return nil
}
