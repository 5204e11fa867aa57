// Package cli implements the crankhost command line.
package cli

import (
	"github.com/spf13/cobra"

	"engine-position-go/pkg/log"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the crankhost root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crankhost",
		Short: "Engine-position decoding host",
		Long: `crankhost decodes a crankshaft tooth signal into a running engine
angle and coordinates half-cycle synchronization with the camshaft
reference signal. Edges come from a synthetic wheel (simulate), a
capture file (replay) or live hardware (serve).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				logger := log.New("enginepos")
				log.ConfigureFromEnv(logger)
				logger.SetLevel(log.DEBUG)
				log.SetDefaultLogger(logger)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "host configuration file (yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
