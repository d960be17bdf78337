package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/filter"
	"github.com/goliatone/go-query-cache/query"
)

// FilterResult reports how a query's filters judge one row.
type FilterResult struct {
	HasPaths     bool         `yaml:"has_paths" json:"has_paths"`
	ApplyFilters bool         `yaml:"apply_filters" json:"apply_filters"`
	Apply        bool         `yaml:"apply" json:"apply"`
	PrimaryKey   *PKResult    `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Denormalized query.Entity `yaml:"denormalized" json:"denormalized"`
}

// PKResult reports the primary-key-only filter checks.
type PKResult struct {
	Columns  []string `yaml:"columns" json:"columns"`
	Filtered bool     `yaml:"filtered" json:"filtered"`
	Admitted bool     `yaml:"admitted" json:"admitted"`
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		raw string
		row string
		pks []string
	)

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Evaluate a PostgREST query string against one row",
		Example: `  qcache filter --query 'select=id,name&name=like.A*' --row '{id: 1, name: Ada}'
  qcache filter --query 'id=in.(1,2)' --row '{"id": 3}' --pk id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filter.Parse(raw)
			if err != nil {
				return WrapExitError(ExitUsage, "invalid query", err)
			}

			var e query.Entity
			if err := yaml.Unmarshal([]byte(row), &e); err != nil {
				return WrapExitError(ExitUsage, "invalid --row", err)
			}

			result := FilterResult{
				HasPaths:     f.HasPaths(e),
				ApplyFilters: f.ApplyFilters(e),
				Apply:        f.Apply(e),
				Denormalized: f.Denormalize(e),
			}
			if len(pks) > 0 {
				result.PrimaryKey = &PKResult{
					Columns:  pks,
					Filtered: f.HasFiltersOnPaths(pks),
					Admitted: f.ApplyFiltersOnPaths(e, pks),
				}
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, result)
		},
	}

	cmd.Flags().StringVar(&raw, "query", "", "PostgREST query string")
	cmd.Flags().StringVar(&row, "row", "{}", "row as YAML or JSON")
	cmd.Flags().StringSliceVar(&pks, "pk", nil, "primary key columns")

	return cmd
}
