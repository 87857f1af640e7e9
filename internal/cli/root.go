// Package cli implements the movid command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzbri/movid/internal/app"
	"github.com/nzbri/movid/internal/config"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/logger"
	"github.com/nzbri/movid/internal/version"
)

// Dependencies are shared by every command. Config and Logger are filled in
// before a command runs; the remaining fields let callers replace the
// landmarker and the processor's collaborators.
type Dependencies struct {
	ConfigPath string
	Config     *config.Config
	Logger     *zap.Logger

	DetectorFactory detector.Factory
	AppOptions      []app.Option
}

// Close flushes the logger.
func (d *Dependencies) Close() {
	if d.Logger != nil {
		d.Logger.Sync()
	}
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:   "movid",
		Short: "Extract hand and face landmarks from assessment videos",
		Long: "movid finds assessment recordings by task code, runs landmark trackers on every frame and writes\n" +
			"an annotated video, a thumbnail and a compressed landmark table per recording.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			deps.Config = cfg
			deps.Logger = log
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVar(&deps.ConfigPath, "config", "", "Config file (default $XDG_CONFIG_HOME/movid/config.toml or ./movid.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, json")

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewRunsCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
