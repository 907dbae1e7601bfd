package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEDB/internal/config"
	"github.com/OpenTraceLab/OpenTraceEDB/internal/logging"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/design/kicad"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "otedb",
	Short: "OpenTraceEDB - board design index, net queries and port setup",
	Long: `OpenTraceEDB (otedb) indexes board designs, answers net queries and
adds differential port terminals to copies of a design.

Examples:
  otedb serve                                   # Start the HTTP service
  otedb index board.zip                         # Summarize an uploaded design
  otedb index board/ --kicad > board.net        # Export a netlist
  otedb query board/ GND CLK                    # Components on every listed net
  otedb resolve board/ --ports ports.yaml --out board_ports.zip`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "otedb.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// newEngine builds the design engine named by the configuration.
func newEngine() (*kicad.Engine, error) {
	pc, err := kicad.NewPowerClassifier(cfg.Engine.PowerNets)
	if err != nil {
		return nil, err
	}
	return kicad.NewEngine(kicad.WithPowerClassifier(pc), kicad.WithLogger(logger)), nil
}
