package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/query"
	"github.com/goliatone/go-query-cache/reconcile"
)

// ReconcileOptions holds the flags of the reconcile command.
type ReconcileOptions struct {
	Op                  string
	Schema              string
	Table               string
	PrimaryKeys         []string
	Input               string
	InputFile           string
	Snapshot            string
	Output              string
	Relocate            bool
	RevalidateTables    []string
	RevalidateRelations []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Summary counts the cache keys visited by one reconciliation, by outcome.
type Summary struct {
	Op       string         `yaml:"op" json:"op"`
	Table    string         `yaml:"table" json:"table"`
	Outcomes map[string]int `yaml:"outcomes" json:"outcomes"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply a single-row write to cached query results",
		Long: `Reconcile one insert, update or delete into a cache.

With --snapshot the cache is loaded from a YAML snapshot file and the
reconciled snapshot is printed. With --redis-addr the write is applied to a
live Redis cache and a summary of the visited keys is printed.`,
		Example: `  qcache reconcile --snapshot cache.yaml --table contact --pk id \
    --op mutate --input '{id: 2, username: bob}'
  qcache reconcile --snapshot cache.yaml --table contact --op upsert --input '{id: 3, username: cy}'
  qcache reconcile --redis-addr localhost:6379 --table contact --op delete --input '{id: 2}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Op, "op", "mutate", "write to reconcile (mutate|upsert|delete)")
	f.StringVar(&opts.Schema, "schema", "public", "schema of the written table")
	f.StringVar(&opts.Table, "table", "", "written table")
	f.StringSliceVar(&opts.PrimaryKeys, "pk", []string{"id"}, "primary key columns")
	f.StringVar(&opts.Input, "input", "", "written row as YAML or JSON")
	f.StringVar(&opts.InputFile, "input-file", "", "file holding the written row")
	f.StringVar(&opts.Snapshot, "snapshot", "", "cache snapshot file")
	f.StringVarP(&opts.Output, "output", "o", "", "write the result to a file instead of stdout")
	f.BoolVar(&opts.Relocate, "relocate", false, "let updated rows move across pages")
	f.StringSliceVar(&opts.RevalidateTables, "revalidate-table", nil, "[schema.]table to revalidate after the write")
	f.StringSliceVar(&opts.RevalidateRelations, "revalidate-relation", nil, "[schema.]relation:fkey_column:relation_id_column to revalidate")
	f.StringVar(&opts.RedisAddr, "redis-addr", "", "reconcile a live Redis cache at this address")
	f.StringVar(&opts.RedisPassword, "redis-password", "", "Redis password")
	f.IntVar(&opts.RedisDB, "redis-db", 0, "Redis database")
	f.StringVar(&opts.RedisPrefix, "redis-prefix", cache.DefaultConfig().Redis.Prefix, "prefix of cache keys in Redis")

	return cmd
}

func runReconcile(ctx context.Context, rootOpts *RootOptions, opts *ReconcileOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	op, err := opts.operation()
	if err != nil {
		return err
	}
	if (opts.Snapshot == "") == (opts.RedisAddr == "") {
		return NewExitError(ExitUsage, "exactly one of --snapshot or --redis-addr is required")
	}

	logger := rootOpts.logger(stderr)
	codec := query.NewCodec()

	var (
		store    cache.Store
		snapshot *Snapshot
	)
	if opts.Snapshot != "" {
		snapshot, err = LoadSnapshot(opts.Snapshot)
		if err != nil {
			return WrapExitError(ExitUsage, "load snapshot", err)
		}
		cfg := cache.DefaultConfig()
		cfg.TTL = 24 * time.Hour
		cfg.EarlyRefresh = nil
		mem, err := cache.NewMemoryStore(cfg)
		if err != nil {
			return err
		}
		if err := snapshot.Seed(ctx, mem, codec); err != nil {
			return err
		}
		store = mem
	} else {
		cfg := cache.DefaultConfig()
		cfg.Backend = cache.BackendRedis
		cfg.Redis.Addr = opts.RedisAddr
		cfg.Redis.Password = opts.RedisPassword
		cfg.Redis.DB = opts.RedisDB
		cfg.Redis.Prefix = opts.RedisPrefix
		remote, err := cache.NewStore(cfg)
		if err != nil {
			return WrapExitError(ExitUsage, "connect to redis", err)
		}
		if closer, ok := remote.(io.Closer); ok {
			defer closer.Close()
		}
		store = remote
	}

	reg := prometheus.NewRegistry()
	r, err := reconcile.New(reconcile.Deps{
		Store:       store,
		Codec:       codec,
		Revalidator: cache.NewStoreRevalidator(store, logger),
	},
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(reconcile.NewMetrics(reg)),
		reconcile.WithPageRelocation(opts.Relocate),
	)
	if err != nil {
		return err
	}

	switch opts.Op {
	case "delete":
		err = r.DeleteItem(ctx, op)
	case "upsert":
		err = r.UpsertItem(ctx, op)
	default:
		err = r.MutateItem(ctx, op)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "reconcile", err)
	}

	summary := Summary{Op: opts.Op, Table: op.Schema + "." + op.Table, Outcomes: outcomes(reg)}
	logger.Info("reconciled", "op", summary.Op, "table", summary.Table, "outcomes", summary.Outcomes)

	var result any = summary
	if snapshot != nil {
		captured, err := Capture(ctx, store, codec, snapshot.RawKeys(codec))
		if err != nil {
			return err
		}
		result = captured
	}

	if opts.Output == "" {
		return write(stdout, rootOpts.Format, result)
	}
	f, err := os.Create(opts.Output)
	if err != nil {
		return WrapExitError(ExitUsage, "create output", err)
	}
	defer f.Close()
	return write(f, rootOpts.Format, result)
}

func (o *ReconcileOptions) operation() (reconcile.Operation, error) {
	switch o.Op {
	case "mutate", "upsert", "delete":
	default:
		return reconcile.Operation{}, NewExitError(ExitUsage, fmt.Sprintf("invalid --op %q: must be mutate, upsert or delete", o.Op))
	}
	if o.Table == "" {
		return reconcile.Operation{}, NewExitError(ExitUsage, "--table is required")
	}

	raw := []byte(o.Input)
	if o.InputFile != "" {
		data, err := os.ReadFile(o.InputFile)
		if err != nil {
			return reconcile.Operation{}, WrapExitError(ExitUsage, "read input", err)
		}
		raw = data
	}
	var input query.Entity
	if err := yaml.Unmarshal(raw, &input); err != nil {
		return reconcile.Operation{}, WrapExitError(ExitUsage, "invalid input", err)
	}
	if len(input) == 0 {
		return reconcile.Operation{}, NewExitError(ExitUsage, "--input or --input-file is required")
	}

	op := reconcile.Operation{
		Input:       input,
		Schema:      o.Schema,
		Table:       o.Table,
		PrimaryKeys: o.PrimaryKeys,
	}

	for _, t := range o.RevalidateTables {
		schema, table := splitTable(t, o.Schema)
		op.RevalidateTables = append(op.RevalidateTables, reconcile.RevalidateTable{Schema: schema, Table: table})
	}
	for _, rel := range o.RevalidateRelations {
		parts := strings.Split(rel, ":")
		if len(parts) != 3 {
			return reconcile.Operation{}, NewExitError(ExitUsage, fmt.Sprintf("invalid --revalidate-relation %q", rel))
		}
		schema, relation := splitTable(parts[0], o.Schema)
		op.RevalidateRelations = append(op.RevalidateRelations, reconcile.RevalidateRelation{
			Schema:           schema,
			Relation:         relation,
			FKeyColumn:       parts[1],
			RelationIDColumn: parts[2],
		})
	}
	return op, nil
}

func splitTable(s, defaultSchema string) (schema, table string) {
	if schema, table, ok := strings.Cut(s, "."); ok {
		return schema, table
	}
	return defaultSchema, s
}

// outcomes reads the per-outcome key counter back from reg.
func outcomes(reg *prometheus.Registry) map[string]int {
	out := map[string]int{}
	families, err := reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != "qcache_reconcile_keys_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" {
					out[label.GetValue()] = int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}
