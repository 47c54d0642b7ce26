// Package cli provides the recbridge command line: the service daemon plus
// one-shot login, browsing and transfer commands sharing the same engine.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reclabs/recbridge/internal/config"
	"github.com/reclabs/recbridge/internal/logging"
	"github.com/reclabs/recbridge/internal/version"
)

var (
	cfgFile string
	verbose bool

	logger *logging.Logger
)

// NewRootCmd builds the recbridge command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recbridge",
		Short: "Bridge between Rec cloud storage and WebDAV",
		Long: `RecBridge ` + version.Version + `
Moves files between Rec cloud storage, a PanDav WebDAV endpoint and the
local disk, either as a REST service (recbridge serve) or as one-shot
command-line transfers.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newTransferCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the service configuration honoring the --config flag.
func loadConfig() (config.Service, error) {
	return config.LoadService(cfgFile)
}
