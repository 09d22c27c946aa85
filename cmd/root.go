package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/preroll-recorder/cmd/devices"
	"github.com/tphakala/preroll-recorder/cmd/record"
	"github.com/tphakala/preroll-recorder/cmd/repair"
	"github.com/tphakala/preroll-recorder/cmd/sessions"
	"github.com/tphakala/preroll-recorder/internal/buildinfo"
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "preroll-recorder",
		Short:         "Record MIDI, audio and video with pre-roll",
		Version:       build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		record.Command(settings, build),
		devices.Command(),
		sessions.Command(settings),
		repair.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// flags bound to viper take precedence over the config file
		if err := conf.Sync(settings); err != nil {
			return err
		}
		return initLogging(settings)
	}

	return rootCmd
}

// initLogging installs the process wide logger from the synced settings.
func initLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = cfg.DefaultLevel
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Recording.StoragePath, "storage", viper.GetString("recording.storage_path"), "Directory for recorded sessions")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("recording.storage_path", rootCmd.PersistentFlags().Lookup("storage")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
