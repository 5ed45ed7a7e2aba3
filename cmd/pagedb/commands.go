package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/pagedb/internal/storage/engine"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/query"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeader(header)
	return tw
}

func bytesOrUnlimited(n int64) string {
	if n == 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the file header and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Stats()
				if err != nil {
					return err
				}
				p, err := e.Pragmas()
				if err != nil {
					return err
				}
				collation := p.Collation
				if collation == "" {
					collation = "binary"
				}
				tw := newTable(a.stdout, "Property", "Value")
				tw.AppendBulk([][]string{
					{"Path", st.Path},
					{"Page size", humanize.IBytes(uint64(st.PageSize))},
					{"Encrypted", strconv.FormatBool(st.Encrypted)},
					{"Collation", collation},
					{"Data size", humanize.IBytes(uint64(st.DataSize))},
					{"Log size", humanize.IBytes(uint64(st.LogSize))},
					{"Pages", humanize.Comma(int64(st.LastPageID) + 1)},
					{"Free pages", humanize.Comma(int64(st.FreePages))},
					{"User version", strconv.Itoa(int(p.UserVersion))},
					{"Timeout", p.Timeout.String()},
					{"Limit size", bytesOrUnlimited(p.LimitSize)},
					{"Checkpoint size", strconv.Itoa(int(p.CheckpointSize))},
					{"Auto rebuild", strconv.FormatBool(p.AutoRebuild)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections with their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				st, err := e.Stats()
				if err != nil {
					return err
				}
				tw := newTable(a.stdout, "Name", "Documents", "Indexes", "Data pages", "Index pages", "Free")
				for _, c := range st.Collections {
					tw.Append([]string{
						c.Name,
						humanize.Comma(int64(c.Documents)),
						strconv.Itoa(c.Indexes),
						humanize.Comma(int64(c.DataPages)),
						humanize.Comma(int64(c.IndexPages)),
						humanize.IBytes(uint64(c.FreeBytes)),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				infos, err := e.ListIndexes(args[0])
				if err != nil {
					return err
				}
				tw := newTable(a.stdout, "Name", "Expression", "Unique", "Keys", "Distinct")
				for _, info := range infos {
					tw.Append([]string{
						info.Name,
						info.Expression,
						strconv.FormatBool(info.Unique),
						humanize.Comma(int64(info.Keys)),
						humanize.Comma(int64(info.UniqueKeys)),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count the documents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				n, err := e.Count(args[0], nil)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, n)
				return nil
			})
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var skip, limit int
	cmd := &cobra.Command{
		Use:   "dump <collection>",
		Short: "Print documents as JSON lines in _id order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				cur, err := e.Find(args[0], query.All().Page(skip, limit))
				if err != nil {
					return err
				}
				defer cur.Close()
				for cur.Next() {
					b, err := cur.Document().MarshalJSON()
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%s\n", b)
				}
				return cur.Err()
			})
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "documents to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum documents to print, 0 for all")
	return cmd
}

func newCheckpointCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Copy committed log pages into the data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				res, err := e.Checkpoint()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s pages copied, log truncated: %t\n", humanize.Comma(int64(res.Pages)), res.Truncated)
				return nil
			})
		},
	}
}

func newRebuildCmd(a *app) *cobra.Command {
	var (
		collation   string
		newPassword string
		salvage     bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rewrite the database into a compact file",
		Long: `rebuild copies every collection into a new file, replacing the old one
and keeping it beside the new one with a -backup suffix. It can change the
collation and the password. With --salvage pages are scanned one by one and
unreadable documents are recorded in the _rebuild_errors collection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := engine.RebuildOptions{Salvage: salvage}
			if cmd.Flags().Changed("new-collation") {
				opts.Collation = &collation
			}
			if cmd.Flags().Changed("new-password") {
				opts.Password = &newPassword
			}
			return a.withEngine(func(e *engine.Engine) error {
				reclaimed, err := e.Rebuild(opts)
				if err != nil {
					return err
				}
				if reclaimed < 0 {
					fmt.Fprintf(a.stdout, "rebuilt, file grew by %s\n", humanize.IBytes(uint64(-reclaimed)))
					return nil
				}
				fmt.Fprintf(a.stdout, "rebuilt, %s reclaimed\n", humanize.IBytes(uint64(reclaimed)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collation, "new-collation", "", "collation of the rebuilt file")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "password of the rebuilt file, empty to decrypt")
	cmd.Flags().BoolVar(&salvage, "salvage", false, "recover what can be read from a damaged file")
	return cmd
}

func newUserVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "user-version [value]",
		Short: "Print or set the application schema version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var set *int32
			if len(args) == 1 {
				n, err := strconv.ParseInt(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("user version %q: %w", args[0], err)
				}
				v := int32(n)
				set = &v
			}
			return a.withEngine(func(e *engine.Engine) error {
				if set != nil {
					return e.SetUserVersion(*set)
				}
				v, err := e.UserVersion()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, v)
				return nil
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var metrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache and transaction statistics",
		Long: `stats describes the state of a freshly opened engine. Use --metrics for
the counters in Prometheus text format.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *engine.Engine) error {
				if metrics {
					e.WriteMetrics(a.stdout)
					return nil
				}
				st, err := e.Stats()
				if err != nil {
					return err
				}
				tw := newTable(a.stdout, "Statistic", "Value")
				tw.AppendBulk([][]string{
					{"Version", strconv.FormatUint(st.Version, 10)},
					{"Log frames", humanize.Comma(st.LogFrames)},
					{"Active transactions", strconv.Itoa(st.ActiveTransactions)},
					{"Cache capacity", humanize.Comma(int64(st.Cache.Capacity))},
					{"Cache pinned", humanize.Comma(int64(st.Cache.Pinned))},
					{"Cache clean", humanize.Comma(int64(st.Cache.Clean))},
				})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print Prometheus metrics instead")
	return cmd
}
