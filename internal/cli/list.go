package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/query"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	SourceOptions

	Filter string   // JSON condition tree
	Search string   // free-text search
	Fields []string // projection; all columns when empty
	Sort   []string // "field" ascending, "-field" descending
	Skip   int
	Limit  int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list <definition.cue> <collection>",
		Short: "List records of a collection",
		Long: `List records through the decorated datasource.

The filter is a JSON condition tree:

  {"field":"title","operator":"Contains","value":"Robot"}
  {"aggregator":"And","conditions":[...]}

Relation fields are reached with ':' (e.g. author:last_name).`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts, opts, args[0], args[1])
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "JSON condition tree")
	cmd.Flags().StringVar(&opts.Search, "search", "", "search string")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "fields to return (comma separated)")
	cmd.Flags().StringSliceVar(&opts.Sort, "sort", nil, "sort fields, prefix with - for descending")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "records to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records (0 = no limit)")

	return cmd
}

func runList(cmd *cobra.Command, rootOpts *RootOptions, opts *ListOptions, path, name string) error {
	formatter := newFormatter(rootOpts, cmd.OutOrStdout())
	ctx := commandContext(cmd)

	tree, err := parseFilter(opts.Filter)
	if err != nil {
		_ = formatter.Error(ErrCodeBadFlag, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --filter", err)
	}
	filter := query.NewPaginatedFilter(tree).WithSort(parseSort(opts.Sort))
	filter.Filter = filter.Filter.WithSearch(opts.Search, false)
	if opts.Skip > 0 || opts.Limit > 0 {
		filter = filter.WithPage(&query.Page{Skip: opts.Skip, Limit: opts.Limit})
	}

	src, err := OpenSource(ctx, path, opts.SourceOptions, rootOpts.logger())
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer src.Close()

	c, err := src.Datasource.Collection(name)
	if err != nil {
		return formatter.Fail("unknown collection", err)
	}
	projection := query.NewProjection(opts.Fields...)
	if len(opts.Fields) == 0 {
		projection = query.NewProjection(c.Schema().ColumnNames()...)
	}

	records, err := c.List(ctx, cliCaller(), filter, projection)
	if err != nil {
		return formatter.Fail("list failed", err)
	}
	rootOpts.logger().Debug("records listed", "collection", name, "count", len(records))
	return formatter.Records(records)
}

// parseFilter decodes a JSON condition tree. An empty string matches
// everything.
func parseFilter(raw string) (query.ConditionTree, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	tree, err := query.UnmarshalConditionTree([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return tree, nil
}

func parseSort(fields []string) query.Sort {
	var sort query.Sort
	for _, f := range fields {
		if field, desc := strings.CutPrefix(f, "-"); desc {
			sort = append(sort, query.SortClause{Field: field, Ascending: false})
		} else {
			sort = append(sort, query.SortClause{Field: f, Ascending: true})
		}
	}
	return sort
}

// cliCaller is the identity every CLI request runs as.
func cliCaller() *collection.Caller {
	c := collection.NewCaller(0, "cli@localhost", "UTC")
	c.Role = "cli"
	return c
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
