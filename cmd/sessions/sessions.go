package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/datastore"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// Command lists the sessions in the session index.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		filter  datastore.Filter
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Long: `List sessions from the session index, newest first.

Examples:
  # Favorites containing "take" in their notes
  preroll-recorder sessions --favorites --search take

  # Re-index every session directory under the storage path
  preroll-recorder sessions --rebuild`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := datastore.Open(&settings.Datastore)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if rebuild {
				n, err := store.Rebuild(ctx, settings.Recording.StoragePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d sessions\n", n)
			}

			list, err := store.ListSessions(ctx, filter)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().BoolVar(&filter.FavoritesOnly, "favorites", false, "Only favorite sessions")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Match text in session notes")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of sessions")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index from session directories first")

	cmd.AddCommand(showCommand(settings))
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the metadata of one session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := datastore.Open(&settings.Datastore)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			meta, err := store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}

func printSessions(w io.Writer, list []session.Summary) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTREAMS\tFAV\tNOTES")
	for _, s := range list {
		fav := ""
		if s.IsFavorite {
			fav = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.Timestamp.Local().Format("2006-01-02 15:04:05"),
			time.Duration(s.DurationSecs*float64(time.Second)).Round(100*time.Millisecond),
			streams(s),
			fav,
			s.Notes)
	}
	return tw.Flush()
}

func streams(s session.Summary) string {
	out := ""
	for _, p := range []struct {
		has  bool
		name string
	}{{s.HasMIDI, "midi"}, {s.HasAudio, "audio"}, {s.HasVideo, "video"}} {
		if !p.has {
			continue
		}
		if out != "" {
			out += ","
		}
		out += p.name
	}
	if out == "" {
		return "-"
	}
	return out
}
