package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/status"
)

const timeLayout = "2006-01-02 15:04"

// formatSize renders a size or a "min-max" size range.
func formatSize(size string, human bool) string {
	if !human || size == "" {
		return size
	}
	parts := strings.SplitN(size, "-", 2)
	for i, p := range parts {
		if n, err := strconv.ParseUint(p, 10, 64); err == nil {
			parts[i] = humanize.IBytes(n)
		}
	}
	return strings.Join(parts, "-")
}

func writeEntries(w io.Writer, entries []*catalog.Entry, human bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		kind, mtime := "-", ""
		if e.IsDir {
			kind = "d"
		}
		if !e.ModTime.IsZero() {
			mtime = e.ModTime.Local().Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			kind, e.ReplicaCount(), e.Owner, formatSize(e.Size, human), mtime, e.Name)
	}
	return tw.Flush()
}

func newLsCmd(app *App) *cobra.Command {
	var human, all bool
	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				p := s.resolve(firstArg(args))
				listing, err := s.cat.ListDir(cmd.Context(), p)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(listing))
				for name := range listing {
					if !all && strings.HasPrefix(name, ".") {
						continue
					}
					names = append(names, name)
				}
				sort.Strings(names)
				entries := make([]*catalog.Entry, len(names))
				for i, name := range names {
					entries[i] = listing[name]
				}
				return writeEntries(app.Out, entries, human)
			})
		},
	}
	cmd.Flags().BoolVarP(&human, "human", "H", false, "Human readable sizes")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden entries")
	return cmd
}

func newStatCmd(app *App) *cobra.Command {
	var human bool
	cmd := &cobra.Command{
		Use:   "stat PATH",
		Short: "Show one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				e, err := s.cat.Lstat(cmd.Context(), s.resolve(args[0]))
				if err != nil {
					return err
				}
				return writeEntries(app.Out, []*catalog.Entry{e}, human)
			})
		},
	}
	cmd.Flags().BoolVarP(&human, "human", "H", false, "Human readable sizes")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// runBatch runs one bulk operation with a progress bar and reports the
// item states.
func (a *App) runBatch(ctx context.Context, s *session, op string, bytes bool, run func(*status.List, catalog.ProgressFunc) error) error {
	batch := uuid.NewString()
	log := a.log.With().Str("batch", batch).Str("op", op).Str("connection", s.conn.Name).Logger()
	log.Info().Msg("batch started")

	statuses := status.NewList()
	bar := newProgressBar(a.Err, op, bytes)
	err := run(statuses, bar.Func(!a.NoProgress))

	done := statuses.Count(status.StateDone)
	failed := statuses.Count(status.StateFailed)
	interrupted := statuses.Count(status.StateInterrupted)
	progress, _ := statuses.Totals()
	log.Info().Int("done", done).Int("failed", failed).Int("interrupted", interrupted).Int64("bytes", progress).Msg("batch finished")

	if err != nil {
		for _, st := range statuses.Statuses() {
			if st.State() != status.StateDone {
				fmt.Fprintf(a.Err, "%s: %s\n", st.State(), st.Key())
			}
		}
		return err
	}
	if bytes {
		fmt.Fprintf(a.Out, "%d item(s), %s\n", done, humanize.IBytes(uint64(progress)))
	} else {
		fmt.Fprintf(a.Out, "%d item(s)\n", done)
	}
	return nil
}

func newGetCmd(app *App) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "get PATH... LOCAL_DIR",
		Short: "Download files or directories into a local directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srcs, dest := args[:len(args)-1], args[len(args)-1]
			return app.withSession(ctx, func(s *session) error {
				paths := make([]string, len(srcs))
				for i, p := range srcs {
					paths[i] = s.resolve(p)
				}
				return app.runBatch(ctx, s, "get", true, func(l *status.List, fn catalog.ProgressFunc) error {
					if recursive {
						return s.cat.DownloadDirectories(ctx, paths, dest, l, fn)
					}
					return s.cat.DownloadFiles(ctx, paths, dest, l, fn)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Download directories")
	return cmd
}

func newPutCmd(app *App) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "put LOCAL... DIR",
		Short: "Upload local files or directories into a catalog directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srcs, dest := args[:len(args)-1], args[len(args)-1]
			return app.withSession(ctx, func(s *session) error {
				target := s.resolve(dest)
				return app.runBatch(ctx, s, "put", true, func(l *status.List, fn catalog.ProgressFunc) error {
					if recursive {
						return s.cat.UploadDirectories(ctx, srcs, target, l, fn)
					}
					return s.cat.UploadFiles(ctx, srcs, target, l, fn)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Upload directories")
	return cmd
}

func newRmCmd(app *App) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm PATH...",
		Short: "Delete files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return app.withSession(ctx, func(s *session) error {
				paths := make([]string, len(args))
				for i, p := range args {
					paths[i] = s.resolve(p)
				}
				return app.runBatch(ctx, s, "rm", false, func(l *status.List, fn catalog.ProgressFunc) error {
					if recursive {
						return s.cat.DeleteDirectories(ctx, paths, l, fn)
					}
					return s.cat.DeleteFiles(ctx, paths, l, fn)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete directories with their content")
	return cmd
}

func newMkdirCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				return s.cat.Mkdir(cmd.Context(), s.resolve(args[0]))
			})
		},
	}
}
