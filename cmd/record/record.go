package record

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/preroll-recorder/internal/buildinfo"
	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/service"
)

// Command creates the command that runs the capture service.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture devices and record sessions on trigger",
		Long: `Open the configured MIDI, audio and video inputs, keep a pre-roll buffer
and record a session whenever a trigger device becomes active. The session
stops after the idle timeout or through the control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(settings, build)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the record command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Recording.PreRollSecs, "preroll", viper.GetInt("recording.pre_roll_secs"), "Seconds of input kept before a trigger")
	cmd.Flags().IntVar(&settings.Recording.IdleTimeoutSecs, "idle-timeout", viper.GetInt("recording.idle_timeout_secs"), "Seconds without activity before a session stops (0 disables)")
	cmd.Flags().StringVar(&settings.Recording.AudioFormat, "format", viper.GetString("recording.audio_format"), "Audio file format (wav, flac)")
	cmd.Flags().StringVar(&settings.Recording.BitDepth, "bit-depth", viper.GetString("recording.bit_depth"), "Audio bit depth (16, 24, 32f)")
	cmd.Flags().StringSliceVar(&settings.MIDI.TriggerDevices, "midi-trigger", viper.GetStringSlice("midi.trigger_devices"), "MIDI inputs that start a session")
	cmd.Flags().StringSliceVar(&settings.MIDI.RecordDevices, "midi-record", viper.GetStringSlice("midi.record_devices"), "MIDI inputs recorded without triggering")
	cmd.Flags().BoolVar(&settings.API.Enabled, "api", viper.GetBool("api.enabled"), "Serve the control API")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address of the control API")

	flagKeys := map[string]string{
		"preroll":      "recording.pre_roll_secs",
		"idle-timeout": "recording.idle_timeout_secs",
		"format":       "recording.audio_format",
		"bit-depth":    "recording.bit_depth",
		"midi-trigger": "midi.trigger_devices",
		"midi-record":  "midi.record_devices",
		"api":          "api.enabled",
		"listen":       "api.listen",
	}
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}
