package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// withStore opens the index for the duration of fn
func withStore(opts *rootOptions, fn func(*logstore.Store) error) error {
	store, err := logstore.Open(opts.dbPath)
	if err != nil {
		return err
	}
	if err := fn(store); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func parseIDArg(name, raw string) (uint64, error) {
	id, err := models.ParseSnowflake(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <userId>",
		Short: "List the records that mention a Discord or Roblox user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseIDArg("userId", args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(s *logstore.Store) error {
				recs, err := s.Get(userID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					docs := make([]models.ModLogDocument, len(recs))
					for i, rec := range recs {
						docs[i] = rec.ToDocument()
					}
					return printJSON(out, docs)
				}
				if len(recs) == 0 {
					fmt.Fprintf(out, "No records for %d\n", userID)
					return nil
				}
				for _, rec := range recs {
					fmt.Fprintf(out, "%d\t%s\t%s\tchannel=%d\t%s\n", rec.MessageID, rec.LogType, rec.InfractionType, rec.ChannelID, rec.Reason)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <messageId>",
		Short: "Delete a record and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseIDArg("messageId", args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(s *logstore.Store) error {
				_, found, err := s.Record(messageID)
				if err != nil && !errors.Is(err, logstore.ErrCorrupt) {
					return err
				}
				if !found && err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Record %d not found\n", messageID)
					return nil
				}
				if err := s.Delete(messageID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Record %d deleted\n", messageID)
				return nil
			})
		},
	}
}

func newCheckpointCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or move a channel's scan checkpoint",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <channelId>",
		Short: "Print the checkpoint of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := parseIDArg("channelId", args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(s *logstore.Store) error {
				cp, found, err := s.GetCheckpoint(channelID)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintf(cmd.OutOrStdout(), "Channel %d has no checkpoint\n", channelID)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), cp)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <channelId> <messageId>",
		Short: "Move a channel's checkpoint forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := parseIDArg("channelId", args[0])
			if err != nil {
				return err
			}
			messageID, err := parseIDArg("messageId", args[1])
			if err != nil {
				return err
			}
			return withStore(opts, func(s *logstore.Store) error {
				if err := s.SetCheckpoint(channelID, messageID); err != nil {
					return err
				}
				cp, _, err := s.GetCheckpoint(channelID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Channel %d checkpoint: %d\n", channelID, cp)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <channelId>",
		Short: "Remove a channel's checkpoint so the next scan backfills it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := parseIDArg("channelId", args[0])
			if err != nil {
				return err
			}
			return withStore(opts, func(s *logstore.Store) error {
				if err := s.ClearCheckpoint(channelID); err != nil {
					return err
				}
				if err := s.ClearBackfillCursor(channelID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Channel %d checkpoint cleared\n", channelID)
				return nil
			})
		},
	})

	return cmd
}

func printReport(w io.Writer, r logstore.Report) {
	fmt.Fprintf(w, "records:         %d\n", r.Records)
	fmt.Fprintf(w, "corrupt records: %d\n", len(r.CorruptRecords))
	fmt.Fprintf(w, "index keys:      %d\n", r.IndexKeys)
	fmt.Fprintf(w, "corrupt sets:    %d\n", r.CorruptSets)
	fmt.Fprintf(w, "empty sets:      %d\n", r.EmptySets)
	fmt.Fprintf(w, "missing entries: %d\n", r.Missing)
	fmt.Fprintf(w, "stale entries:   %d\n", r.Stale)
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the reverse index against the records",
		Long: `Verify walks every record, derives the reverse index it implies and
compares it with the stored one. With --repair the index is rebuilt and
undecodable records are dropped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(s *logstore.Store) error {
				var report logstore.Report
				var err error
				if repair {
					report, err = s.Repair()
				} else {
					report, err = s.Verify()
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					if err := printJSON(out, report); err != nil {
						return err
					}
				} else {
					printReport(out, report)
				}

				switch {
				case report.Consistent():
					fmt.Fprintln(out, "index is consistent")
				case repair:
					fmt.Fprintln(out, "index rebuilt")
				default:
					return fmt.Errorf("index is inconsistent, run with --repair")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild the index from the records")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print table sizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(opts, func(s *logstore.Store) error {
				stats, err := s.Stats()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.asJSON {
					return printJSON(out, stats)
				}
				fmt.Fprintf(out, "records:          %d\n", stats.Records)
				fmt.Fprintf(out, "indexed users:    %d\n", stats.IndexKeys)
				fmt.Fprintf(out, "checkpoints:      %d\n", stats.Checkpoints)
				fmt.Fprintf(out, "backfill cursors: %d\n", stats.BackfillCursors)
				return nil
			})
		},
	}
}
