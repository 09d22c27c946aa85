package repair

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/repair"
)

// Command repairs the files of an interrupted session.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <session dir>",
		Short: "Finalize MIDI and audio files of an interrupted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := repair.Session(args[0])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if n := report.Failed(); n > 0 {
				return errors.Newf("%d files could not be repaired", n).
					Component("repair").
					Category(errors.CategoryFileIO).
					Build()
			}
			return nil
		},
	}
}

func printReport(w io.Writer, r *repair.Report) {
	for _, res := range r.Results {
		status := "ok"
		switch {
		case res.Error != "":
			status = "failed: " + res.Error
		case res.Repaired:
			status = "repaired"
		}
		fmt.Fprintf(w, "%-40s %-5s %s\n", res.File, res.Kind, status)
	}
	fmt.Fprintf(w, "%d checked, %d repaired, %d failed\n", len(r.Results), r.Repaired(), r.Failed())
}
