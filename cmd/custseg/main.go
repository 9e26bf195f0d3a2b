// Command custseg runs the customer segmentation, classification and fraud
// pipeline, serves single-customer predictions from a saved artifact and
// scores new snapshots with the saved anomaly model.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hed1ad/custsegml/pkg/config"
	"github.com/hed1ad/custsegml/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logMode    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "custseg",
		Short:        "Customer segmentation, segment classifier and fraud detection",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&opts.envFile, "env-file", "", "env file to load instead of ./.env")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&opts.logMode, "log-mode", "", "log encoding override (dev, prod)")

	root.AddCommand(
		newRunCmd(opts),
		newSweepCmd(opts),
		newPredictCmd(opts),
		newScoreCmd(opts),
		newGenerateCmd(),
		newVersionCmd(),
	)
	return root
}

// load resolves configuration and builds the logger.
func (o *globalOptions) load() (*config.Config, *logging.Logger, error) {
	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}
	cfg, err := config.Load(o.configPath, envFiles...)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logMode != "" {
		cfg.Log.Mode = o.logMode
	}
	log, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "custseg", version)
		},
	}
}
