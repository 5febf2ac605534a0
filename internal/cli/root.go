// Package cli implements the duet command line.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/config"
	"github.com/ewilliams-labs/duet/internal/logger"
)

const app = "duet"

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfgFile string
	v       *viper.Viper
}

// NewRootCommand builds the duet command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           app,
		Short:         "duet ranks potential matches by face and music taste similarity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "a config file (default is duet.yaml in current directory)")
	cmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	cmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = opts.v.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))
	_ = opts.v.BindPFlag("log.json", cmd.PersistentFlags().Lookup("json"))

	cmd.AddCommand(
		newServeCommand(opts),
		newProfileCommand(opts),
		newRankCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads the configuration and builds the logger. requireSpotify is
// passed through to validation.
func (o *rootOptions) load(requireSpotify bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.v, o.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if o.v.GetBool("debug") {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(requireSpotify); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
