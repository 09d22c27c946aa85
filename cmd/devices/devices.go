package devices

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/preroll-recorder/internal/audio"
	"github.com/tphakala/preroll-recorder/internal/midi"
)

// Command lists the MIDI and audio inputs visible to the recorder.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List MIDI and audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer midi.CloseDriver()
			audioInputs, err := audio.ListDevices()
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), midi.InputNames(), audioInputs)
			return nil
		},
	}
}

func printDevices(w io.Writer, midiInputs, audioInputs []string) {
	printSection(w, "MIDI inputs", midiInputs)
	fmt.Fprintln(w)
	printSection(w, "Audio inputs", audioInputs)
}

func printSection(w io.Writer, title string, names []string) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(names) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for i, n := range names {
		fmt.Fprintf(w, "  %d: %s\n", i, n)
	}
}
