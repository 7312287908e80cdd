package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/marcus/objsync/internal/filter"
	"github.com/marcus/objsync/internal/output"
	"github.com/marcus/objsync/pkg/remote"
	"github.com/spf13/cobra"
)

// buildQuery compiles the filter words following the class name.
func buildQuery(c *remote.Client, className string, words []string) (*remote.Query, error) {
	opts := filter.Options{Now: time.Now()}
	if u := c.CurrentUser(); u != nil {
		opts.CurrentUserID = u.ID()
	}
	return filter.ParseQuery(strings.Join(words, " "), className, opts)
}

// applyProjection adds --include and --keys to q.
func applyProjection(cmd *cobra.Command, q *remote.Query) *remote.Query {
	if include, _ := cmd.Flags().GetStringSlice("include"); len(include) > 0 {
		q = q.Include(include...)
	}
	if keys, _ := cmd.Flags().GetStringSlice("keys"); len(keys) > 0 {
		q = q.Select(keys...)
	}
	return q
}

func printRecords(cmd *cobra.Command, records []remote.Record) error {
	w := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		if records == nil {
			records = []remote.Record{}
		}
		return output.JSON(w, records)
	}
	if len(records) == 0 {
		output.Info(w, "no records")
		return nil
	}

	long, _ := cmd.Flags().GetBool("long")
	keys, _ := cmd.Flags().GetStringSlice("keys")
	width := 0
	if f, ok := w.(*os.File); ok && output.IsTerminal(f) {
		width = output.TerminalWidth(0)
	}
	for i, r := range records {
		if long {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprint(w, output.FormatRecordLong(r))
			continue
		}
		fmt.Fprintln(w, output.FormatRecordShort(r, keys, width))
	}
	return nil
}

var getCmd = &cobra.Command{
	Use:     "get <class> <objectId>",
	Aliases: []string{"show"},
	Short:   "Fetch one record by id",
	GroupID: "records",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		q := applyProjection(cmd, remote.NewQuery(args[0]))
		r, err := c.GetObject(cmd.Context(), q, args[1], callOptions(cmd)...)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), r)
		}
		fmt.Fprint(cmd.OutOrStdout(), output.FormatRecordLong(r))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:     "query <class> [filter...]",
	Aliases: []string{"find", "ls"},
	Short:   "List records matching a filter",
	Long: `List records of a class matching a filter expression.

Filters compare fields with = != < > <= >= ~ (contains) and !~, combine
them with AND, OR, NOT and parentheses, and may call exists(f),
missing(f), in(f, a, b), starts(f, s) and ends(f, s). Dates accept
YYYY-MM-DD, keywords like today or last_week, and offsets like -7d.
@me is the logged-in user. sort:-field orders the results.`,
	Example: `  objsync query Post 'author = @me AND updated >= -7d sort:-updated'
  objsync query GameScore score > 1000 --limit 10
  objsync query Post --count 'exists(image)'`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		q, err := buildQuery(c, args[0], args[1:])
		if err != nil {
			return err
		}
		q = applyProjection(cmd, q)
		if limit, _ := cmd.Flags().GetInt("limit"); limit >= 0 {
			q = q.Limit(limit)
		}
		if skip, _ := cmd.Flags().GetInt("skip"); skip > 0 {
			q = q.Skip(skip)
		}

		ctx := cmd.Context()
		if countOnly, _ := cmd.Flags().GetBool("count"); countOnly {
			n, err := c.Count(ctx, q, callOptions(cmd)...)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return output.JSON(cmd.OutOrStdout(), map[string]int64{"count": n})
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		}

		records, err := c.Find(ctx, q, callOptions(cmd)...)
		if err != nil {
			return err
		}
		return printRecords(cmd, records)
	},
}

var distinctCmd = &cobra.Command{
	Use:     "distinct <class> <key> [filter...]",
	Short:   "List the distinct values of a field (requires the master key)",
	GroupID: "records",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		q, err := buildQuery(c, args[0], args[2:])
		if err != nil {
			return err
		}
		values, err := c.Distinct(cmd.Context(), q, args[1], remote.UseMasterKey())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return output.JSON(cmd.OutOrStdout(), encodeValues(values))
		}
		for _, v := range values {
			fmt.Fprintln(cmd.OutOrStdout(), output.FormatValue(v))
		}
		return nil
	},
}

// encodeValues converts decoded values back to their JSON form for output.
func encodeValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		enc, err := remote.Encode(v, true)
		if err != nil {
			enc = output.FormatValue(v)
		}
		out[i] = enc
	}
	return out
}

var exportCmd = &cobra.Command{
	Use:   "export <class> [filter...]",
	Short: "Stream every matching record as JSON lines",
	Long: `Export walks all matching records in objectId order, one page at a time,
and writes each as a JSON object on its own line. Sort clauses are not
allowed since paging relies on objectId order.

With --out, a .zst or .gz file name compresses the output.`,
	GroupID: "records",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer release()

		q, err := buildQuery(c, args[0], args[1:])
		if err != nil {
			return err
		}
		q = applyProjection(cmd, q)

		var w io.WriteCloser = nopCloser{cmd.OutOrStdout()}
		if path, _ := cmd.Flags().GetString("out"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			defer f.Close()
			if w, err = compressWriter(f, path); err != nil {
				return err
			}
		}

		batch, _ := cmd.Flags().GetInt("batch")
		n, err := exportRecords(cmd, c, q, batch, w)
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("flush export: %w", err)
		}
		output.Info(cmd.ErrOrStderr(), "exported %d %s records", n, args[0])
		return nil
	},
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// compressWriter picks an encoder from the output file extension:
// .zst for zstd, .gz for gzip, anything else is written as is.
func compressWriter(w io.Writer, path string) (io.WriteCloser, error) {
	switch filepath.Ext(path) {
	case ".zst":
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case ".gz":
		return gzip.NewWriter(w), nil
	}
	return nopCloser{w}, nil
}

func exportRecords(cmd *cobra.Command, c *remote.Client, q *remote.Query, batch int, w io.Writer) (int, error) {
	n := 0
	err := c.Each(cmd.Context(), q, batch, func(r remote.Record) error {
		data, err := remote.ObjectOf(r).MarshalJSON()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(data)); err != nil {
			return err
		}
		n++
		return nil
	}, callOptions(cmd)...)
	return n, err
}

func init() {
	for _, c := range []*cobra.Command{getCmd, queryCmd, exportCmd} {
		c.Flags().StringSlice("include", nil, "Fetch pointed-to records for these keys")
		c.Flags().StringSlice("keys", nil, "Only return these fields")
	}
	queryCmd.Flags().Int("limit", 100, "Maximum number of records")
	queryCmd.Flags().Int("skip", 0, "Number of records to skip")
	queryCmd.Flags().Bool("count", false, "Print the number of matching records only")
	queryCmd.Flags().BoolP("long", "l", false, "Show every field of each record")
	exportCmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().Int("batch", 100, "Records fetched per request")

	rootCmd.AddCommand(getCmd, queryCmd, distinctCmd, exportCmd)
}
