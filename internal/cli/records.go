package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coldline/internal/gateway"
	"github.com/roach88/coldline/internal/record"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Payload   string
	File      string
	Timestamp string
}

// PutResult reports a stored record.
type PutResult struct {
	Key       record.Key `json:"key"`
	Timestamp time.Time  `json:"timestamp"`
	Bytes     int        `json:"bytes"`
}

// Text implements Texter.
func (r PutResult) Text(w io.Writer) {
	fmt.Fprintf(w, "Stored %s (%d bytes, written %s)\n", r.Key, r.Bytes, r.Timestamp.Format(timeFormat))
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <partition-key> <id>",
		Short: "Write a record to the hot store",
		Long: `Write a record to the hot store. The payload comes from --payload,
from --file, or from stdin when neither is given.

Examples:
  coldline put orders 1001 --payload '{"total": 12}'
  coldline put orders 1002 --file order.json --timestamp 2024-01-01T00:00:00Z
  cat order.json | coldline put orders 1003`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "record payload")
	cmd.Flags().StringVar(&opts.File, "file", "", "read the payload from a file")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "write timestamp (RFC 3339, default now)")
	cmd.MarkFlagsMutuallyExclusive("payload", "file")

	return cmd
}

func runPut(opts *PutOptions, partition, id string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	rec := record.Record{
		Key:       record.Key{PartitionKey: partition, ID: id}.Normalize(),
		Timestamp: time.Now().UTC(),
	}
	if opts.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, opts.Timestamp)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeArgument, "invalid --timestamp", err)
		}
		rec.Timestamp = ts.UTC()
	}
	payload, err := readPayload(opts, cmd.InOrStdin())
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeArgument, "failed to read payload", err)
	}
	rec.Payload = payload
	if err := rec.Validate(); err != nil {
		return out.Fail(ExitCommandError, ErrCodeArgument, "invalid record", err)
	}

	cfg, err := loadConfig(opts.RootOptions, out)
	if err != nil {
		return err
	}
	b, err := openBackends(cmd.Context(), cfg, need{hot: true})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBackend, "failed to open hot store", err)
	}
	defer b.closeAndLog()

	if err := b.hot.Put(cmd.Context(), rec); err != nil {
		return out.Fail(ExitFailure, ErrCodeBackend, "failed to write record", err)
	}
	slog.Debug("record stored", "partition", rec.Key.PartitionKey, "id", rec.Key.ID)
	return out.Success(PutResult{Key: rec.Key, Timestamp: rec.Timestamp, Bytes: len(rec.Payload)})
}

func readPayload(opts *PutOptions, stdin io.Reader) ([]byte, error) {
	switch {
	case opts.Payload != "":
		return []byte(opts.Payload), nil
	case opts.File != "":
		return os.ReadFile(opts.File)
	default:
		return io.ReadAll(io.LimitReader(stdin, record.MaxPayloadSize+1))
	}
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Raw bool
}

// GetResult is a record read through the gateway.
type GetResult struct {
	Key       record.Key `json:"key"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Payload   string     `json:"payload"`
}

// Text implements Texter.
func (r GetResult) Text(w io.Writer) {
	fmt.Fprintf(w, "%s (from %s, written %s)\n", r.Key, r.Source, r.Timestamp.Format(timeFormat))
	fmt.Fprintln(w, r.Payload)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <partition-key> <id>",
		Short: "Read a record from whichever tier holds it",
		Long: `Read a record through the retrieval gateway: hot store first, then the
cache, then the cold store.

Exit codes:
  0 - Record found
  1 - Record does not exist, or its state could not be determined
  2 - Command error

Examples:
  coldline get orders 1001
  coldline get orders 1001 --raw > order.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "write only the payload bytes")

	return cmd
}

func runGet(opts *GetOptions, partition, id string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := loadConfig(opts.RootOptions, out)
	if err != nil {
		return err
	}
	b, err := openBackends(cmd.Context(), cfg, need{hot: true, cold: true, cache: true})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBackend, "failed to open stores", err)
	}
	defer b.closeAndLog()

	key := record.Key{PartitionKey: partition, ID: id}
	res, err := b.newGateway(slog.Default()).Get(cmd.Context(), key)
	switch {
	case errors.Is(err, gateway.ErrRecordNotFound):
		return out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("record %s not found", key.Normalize()), nil)
	case gateway.IsUnavailable(err):
		return out.Fail(ExitFailure, ErrCodeUnavailable, "record state could not be determined", err)
	case err != nil:
		return out.Fail(ExitCommandError, ErrCodeArgument, "invalid key", err)
	}

	if opts.Raw {
		_, err := cmd.OutOrStdout().Write(res.Record.Payload)
		return err
	}
	return out.Success(GetResult{
		Key:       res.Record.Key,
		Timestamp: res.Record.Timestamp.UTC(),
		Source:    string(res.Source),
		Payload:   string(res.Record.Payload),
	})
}
