package main

import (
	"Parley/internal/pkg/retryqueue"
	"fmt"
	"io"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Path   string
	Format string // "json" | "text"
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the queuectl root command. It works on the Pebble
// directory directly, so the API process must not hold it open.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Inspect and maintain the offline retry queue",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Path, "path", "./data/retryqueue", "retry queue directory")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))

	return cmd
}

func withStorage(opts *RootOptions, fn func(retryqueue.Storage) error) error {
	storage, err := retryqueue.OpenPebbleStorage(opts.Path, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.Path, err)
	}
	defer func() { _ = storage.Close() }()
	return fn(storage)
}

func newListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending items in enqueue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(storage retryqueue.Storage) error {
				items, err := storage.List()
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tOPERATION\tRETRIES\tQUEUED AT\tLAST ERROR")
				for _, it := range items {
					_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
						it.ID, it.OperationType, it.RetryCount, it.Timestamp.Format(time.RFC3339), it.LastError)
				}
				return w.Flush()
			})
		},
	}
}

type statsResult struct {
	Depth       int                              `json:"depth"`
	ByOperation map[retryqueue.OperationType]int `json:"by_operation"`
	Oldest      *time.Time                       `json:"oldest,omitempty"`
	MaxRetries  int                              `json:"max_retries"`
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise queue depth per operation type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(storage retryqueue.Storage) error {
				items, err := storage.List()
				if err != nil {
					return err
				}
				res := summarise(items)
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "depth: %d\n", res.Depth)
				if res.Oldest != nil {
					_, _ = fmt.Fprintf(out, "oldest: %s\n", res.Oldest.Format(time.RFC3339))
				}
				_, _ = fmt.Fprintf(out, "max retries: %d\n", res.MaxRetries)
				ops := make([]string, 0, len(res.ByOperation))
				for op := range res.ByOperation {
					ops = append(ops, string(op))
				}
				slices.Sort(ops)
				for _, op := range ops {
					_, _ = fmt.Fprintf(out, "  %s: %d\n", op, res.ByOperation[retryqueue.OperationType(op)])
				}
				return nil
			})
		},
	}
}

func summarise(items []*retryqueue.Item) statsResult {
	res := statsResult{Depth: len(items), ByOperation: make(map[retryqueue.OperationType]int)}
	for _, it := range items {
		res.ByOperation[it.OperationType]++
		res.MaxRetries = max(res.MaxRetries, it.RetryCount)
		if res.Oldest == nil || it.Timestamp.Before(*res.Oldest) {
			ts := it.Timestamp
			res.Oldest = &ts
		}
	}
	return res
}

func newPurgeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id>...",
		Short: "Remove items without replaying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseUint(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid item id %q", a)
				}
				ids = append(ids, id)
			}
			return withStorage(opts, func(storage retryqueue.Storage) error {
				for _, id := range ids {
					if err := storage.Delete(id); err != nil {
						return fmt.Errorf("purge %d: %w", id, err)
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", id)
				}
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
