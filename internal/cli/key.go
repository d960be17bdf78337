package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/query"
)

// KeyDoc is the readable form of a query key used in command output and
// snapshot files.
type KeyDoc struct {
	Schema  string `yaml:"schema" json:"schema"`
	Table   string `yaml:"table" json:"table"`
	Query   string `yaml:"query,omitempty" json:"query,omitempty"`
	Body    string `yaml:"body,omitempty" json:"body,omitempty"`
	OrderBy string `yaml:"order_by,omitempty" json:"order_by,omitempty"`
	Count   string `yaml:"count,omitempty" json:"count,omitempty"`
	Head    bool   `yaml:"head,omitempty" json:"head,omitempty"`
	Limit   *int   `yaml:"limit,omitempty" json:"limit,omitempty"`
	Offset  *int   `yaml:"offset,omitempty" json:"offset,omitempty"`
}

func (d KeyDoc) toKey() query.Key {
	schema := d.Schema
	if schema == "" {
		schema = "public"
	}
	return query.Key{
		Schema:  schema,
		Table:   d.Table,
		Query:   d.Query,
		Body:    d.Body,
		OrderBy: d.OrderBy,
		Count:   query.CountMode(d.Count),
		IsHead:  d.Head,
		Limit:   d.Limit,
		Offset:  d.Offset,
	}
}

func keyDoc(k query.Key) KeyDoc {
	return KeyDoc{
		Schema:  k.Schema,
		Table:   k.Table,
		Query:   k.Query,
		Body:    k.Body,
		OrderBy: k.OrderBy,
		Count:   string(k.Count),
		Head:    k.IsHead,
		Limit:   k.Limit,
		Offset:  k.Offset,
	}
}

// DecodedKey is one line of decode output.
type DecodedKey struct {
	Raw     string   `yaml:"raw" json:"raw"`
	Key     *KeyDoc  `yaml:"key,omitempty" json:"key,omitempty"`
	Order   []string `yaml:"order,omitempty" json:"order,omitempty"`
	Invalid string   `yaml:"invalid,omitempty" json:"invalid,omitempty"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <key>...",
		Short: "Decode cache keys into their query descriptors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec := query.NewCodec()
			out := make([]DecodedKey, 0, len(args))
			invalid := 0
			for _, raw := range args {
				d := DecodedKey{Raw: raw}
				if key, ok := codec.Decode(raw); ok {
					doc := keyDoc(*key)
					d.Key = &doc
					for _, o := range key.Order() {
						d.Order = append(d.Order, o.String())
					}
				} else {
					d.Invalid = "not a query key"
					invalid++
				}
				out = append(out, d)
			}
			if err := write(cmd.OutOrStdout(), rootOpts.Format, out); err != nil {
				return err
			}
			if invalid > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d keys are not query keys", invalid, len(args)))
			}
			return nil
		},
	}
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		doc           KeyDoc
		limit, offset int
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build the cache key of a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if doc.Table == "" {
				return NewExitError(ExitUsage, "--table is required")
			}
			if cmd.Flags().Changed("limit") {
				doc.Limit = &limit
			}
			if cmd.Flags().Changed("offset") {
				doc.Offset = &offset
			}
			key := doc.toKey()
			_, err := fmt.Fprintln(cmd.OutOrStdout(), query.NewCodec().Encode(key))
			return err
		},
	}

	cmd.Flags().StringVar(&doc.Schema, "schema", "public", "schema of the table")
	cmd.Flags().StringVar(&doc.Table, "table", "", "queried table")
	cmd.Flags().StringVar(&doc.Query, "query", "", "PostgREST query string")
	cmd.Flags().StringVar(&doc.Body, "body", "", "request body")
	cmd.Flags().StringVar(&doc.OrderBy, "order", "", `order-by, e.g. "name:asc.nullsLast|id:desc"`)
	cmd.Flags().StringVar(&doc.Count, "count", "", "count mode (exact|planned|estimated)")
	cmd.Flags().BoolVar(&doc.Head, "head", false, "head request")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}
