package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"duck-flight/pkg/client"
)

// readSQL takes the query from --file, from stdin when the argument is "-",
// or from the joined arguments.
func readSQL(cmd *cobra.Command, args []string, file string) (string, error) {
	var sql string
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read SQL file: %w", err)
		}
		sql = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read SQL from stdin: %w", err)
		}
		sql = string(data)
	default:
		sql = strings.Join(args, " ")
	}
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("SQL is required: pass it as an argument, with --file, or as - for stdin")
	}
	return sql, nil
}

func newSubmitCmd(c *client.Client) *cobra.Command {
	var (
		file     string
		wait     bool
		inline   bool
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit [SQL | -]",
		Short: "Submit a query",
		Long: "Submit a query. The result is materialized in the background and\n" +
			"identified by a job id. With --inline, small results are returned directly.",
		Example: `  flightctl submit --inline "SELECT 42 AS answer"
  flightctl submit --wait -f report.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			var want *bool
			if inline {
				want = &inline
			}

			ctx := cmd.Context()
			res, err := c.Submit(ctx, sql, want)
			if err != nil {
				return err
			}
			if !wait || res.Kind != "pending" || res.Status != client.StatusPending {
				return printSubmit(cmd, res)
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			job, err := c.WaitForQuery(ctx, res.JobID, interval)
			if job != nil {
				if perr := printJob(cmd, job); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read SQL from a file")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until a background job finishes")
	cmd.Flags().BoolVar(&inline, "inline", false, "Return small results directly instead of as a job")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval with --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")

	return cmd
}

func printSubmit(cmd *cobra.Command, res *client.SubmitResponse) error {
	out := cmd.OutOrStdout()
	if isJSON(cmd) {
		return printJSON(out, res)
	}

	if res.Kind == "inline" {
		return printInlineRows(out, res)
	}
	fields := []detailField{
		{"Kind", res.Kind},
		{"Fingerprint", res.Fingerprint},
		{"Job ID", res.JobID},
		{"Status", res.Status},
	}
	if res.Format != "" {
		fields = append(fields, detailField{"Format", res.Format})
	}
	if res.RowCount != nil {
		fields = append(fields, detailField{"Rows", intOrDash(res.RowCount)})
	}
	if res.ResultURL != "" {
		fields = append(fields, detailField{"Result", res.ResultURL})
	}
	if res.Error != "" {
		fields = append(fields, detailField{"Error", res.Error})
	}
	return printDetail(out, fields)
}

func printInlineRows(w io.Writer, res *client.SubmitResponse) error {
	headers := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		headers[i] = col.Name
	}
	rows := make([][]string, 0, len(res.Rows))
	for _, raw := range res.Rows {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			return fmt.Errorf("decode row: %w", err)
		}
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = formatCell(obj[h])
		}
		rows = append(rows, row)
	}
	if err := printTable(w, headers, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func printJob(cmd *cobra.Command, job *client.Job) error {
	out := cmd.OutOrStdout()
	if isJSON(cmd) {
		return printJSON(out, job)
	}
	completed := "-"
	if job.CompletedAt != nil {
		completed = job.CompletedAt.Format(time.RFC3339)
	}
	fields := []detailField{
		{"Job ID", job.JobID},
		{"Status", job.Status},
		{"Fingerprint", job.Fingerprint},
		{"Format", orDash(job.Format)},
		{"Rows", intOrDash(job.RowCount)},
		{"Bytes", intOrDash(job.ByteSize)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Completed", completed},
	}
	if job.Error != nil {
		fields = append(fields, detailField{"Error", *job.Error})
	}
	if job.ResultURL != "" {
		fields = append(fields, detailField{"Result", job.ResultURL})
	}
	return printDetail(out, fields)
}

func newStatusCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd, job)
		},
	}
}

func newWaitCmd(c *client.Client) *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <job_id>",
		Short: "Wait for a job to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			job, err := c.WaitForQuery(ctx, args[0], interval)
			if job != nil {
				if perr := printJob(cmd, job); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

func newDownloadCmd(c *client.Client) *cobra.Command {
	var (
		file   string
		decode bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "download <job_id>",
		Short: "Download the cached result of a job",
		Long: "Download the stored artifact of a ready job. Columnar results are an\n" +
			"Arrow IPC stream and row results are gzip-compressed JSON. With --decode\n" +
			"the artifact is printed as JSON lines instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if decode {
				var buf bytes.Buffer
				info, err := c.Download(ctx, args[0], &buf)
				if err != nil {
					return err
				}
				return decodeArtifact(cmd.OutOrStdout(), info.Format, &buf)
			}

			var w io.Writer = cmd.OutOrStdout()
			if file != "" && file != "-" {
				f, err := os.Create(file)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close() //nolint:errcheck
				w = f
			} else if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) && !force {
				return fmt.Errorf("refusing to write a binary artifact to a terminal: use --file, --decode or --force")
			}

			info, err := c.Download(ctx, args[0], w)
			if err != nil {
				if file != "" && file != "-" {
					_ = os.Remove(file)
				}
				return err
			}
			if file != "" && file != "-" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes (%s) to %s\n", info.Bytes, info.Format, file)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Write the artifact to a file")
	cmd.Flags().BoolVar(&decode, "decode", false, "Print the rows as JSON lines")
	cmd.Flags().BoolVar(&force, "force", false, "Write binary output to a terminal")
	return cmd
}

func decodeArtifact(w io.Writer, format string, r io.Reader) error {
	switch format {
	case client.FormatColumnarStream:
		_, err := client.ReadArrow(r, func(_ *arrow.Schema, rec arrow.Record) error {
			return array.RecordToJSON(rec, w)
		})
		return err
	case client.FormatCompressedRows:
		rows, err := client.ReadRows(r)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown result format %q", format)
	}
}

func newSchemaCmd(c *client.Client) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "schema [SQL | -]",
		Short: "Show the columns a query produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			res, err := c.Schema(cmd.Context(), sql)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printColumns(cmd.OutOrStdout(), res.Columns)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read SQL from a file")
	return cmd
}

func printColumns(w io.Writer, cols []client.Column) error {
	rows := make([][]string, 0, len(cols))
	for _, col := range cols {
		rows = append(rows, []string{col.Name, col.Type})
	}
	return printTable(w, []string{"name", "type"}, rows)
}

func newMetadataCmd(c *client.Client) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "metadata [SQL | -]",
		Short: "Show the schema and cache state of a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			md, err := c.Metadata(cmd.Context(), sql)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isJSON(cmd) {
				return printJSON(out, md)
			}
			modified := "-"
			if md.LastModified != nil {
				modified = md.LastModified.Format(time.RFC3339)
			}
			if err := printDetail(out, []detailField{
				{"Fingerprint", md.Fingerprint},
				{"Cached", fmt.Sprintf("%t", md.Cached)},
				{"Key", orDash(md.Key)},
				{"Format", orDash(md.Format)},
				{"Rows", intOrDash(md.NumRows)},
				{"Size", intOrDash(md.FileSize)},
				{"Modified", modified},
				{"Job ID", orDash(md.JobID)},
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out)
			return printColumns(out, md.Columns)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read SQL from a file")
	return cmd
}

func newHistoryCmd(c *client.Client) *cobra.Command {
	var opts client.HistoryOptions
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.History(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isJSON(cmd) {
				return printJSON(out, list)
			}
			rows := make([][]string, 0, len(list.Items))
			for _, job := range list.Items {
				rows = append(rows, []string{
					job.JobID,
					job.Status,
					orDash(job.Format),
					intOrDash(job.RowCount),
					job.CreatedAt.Format(time.RFC3339),
					truncate(job.SQL, 60),
				})
			}
			if err := printTable(out, []string{"job_id", "status", "format", "rows", "created", "sql"}, rows); err != nil {
				return err
			}
			if list.NextPageToken != "" {
				_, _ = fmt.Fprintf(out, "\nMore results: --page-token %s\n", list.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (pending, ready, error)")
	cmd.Flags().IntVar(&opts.Limit, "max-results", 20, "Maximum jobs to return")
	cmd.Flags().StringVar(&opts.PageToken, "page-token", "", "Continue from a previous page")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
