package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// AggregateOptions holds flags for the aggregate command.
type AggregateOptions struct {
	SourceOptions

	Operation string
	Field     string
	Groups    []string // "field" or "field@Year"
	Filter    string
	Limit     int
}

// AggregateRow is one aggregated group in command output.
type AggregateRow struct {
	Value ir.Value  `json:"value"`
	Group ir.Record `json:"group"`
}

// MarshalJSON encodes the value with the ir encoding.
func (r AggregateRow) MarshalJSON() ([]byte, error) {
	value, err := ir.MarshalValue(r.Value)
	if err != nil {
		return nil, err
	}
	group := r.Group
	if group == nil {
		group = ir.Record{}
	}
	return json.Marshal(struct {
		Value json.RawMessage `json:"value"`
		Group ir.Record       `json:"group"`
	}{value, group})
}

// NewAggregateCommand creates the aggregate command.
func NewAggregateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AggregateOptions{}

	cmd := &cobra.Command{
		Use:   "aggregate <definition.cue> <collection>",
		Short: "Aggregate records of a collection",
		Long: `Reduce records with Count, Sum, Avg, Max or Min, optionally grouped.

Date groups take an operation after '@':

  strata aggregate library.cue book --group published@Year`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(cmd, rootOpts, opts, args[0], args[1])
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Operation, "operation", string(query.Count), "Count|Sum|Avg|Max|Min")
	cmd.Flags().StringVar(&opts.Field, "field", "", "field to reduce (optional for Count)")
	cmd.Flags().StringSliceVar(&opts.Groups, "group", nil, "group fields, optionally field@Year|Quarter|Month|Week|Day")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "JSON condition tree")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum groups (0 = no limit)")

	return cmd
}

func runAggregate(cmd *cobra.Command, rootOpts *RootOptions, opts *AggregateOptions, path, name string) error {
	formatter := newFormatter(rootOpts, cmd.OutOrStdout())
	ctx := commandContext(cmd)

	tree, err := parseFilter(opts.Filter)
	if err != nil {
		_ = formatter.Error(ErrCodeBadFlag, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --filter", err)
	}
	agg, err := parseAggregation(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeBadFlag, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid aggregation", err)
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
	results, err := c.Aggregate(ctx, cliCaller(), query.Filter{ConditionTree: tree}, agg, opts.Limit)
	if err != nil {
		return formatter.Fail("aggregate failed", err)
	}

	rows := make([]AggregateRow, len(results))
	for i, r := range results {
		rows[i] = AggregateRow{Value: r.Value, Group: r.Group}
	}
	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	for _, row := range rows {
		value, err := ir.MarshalValue(row.Value)
		if err != nil {
			return err
		}
		if len(row.Group) == 0 {
			fmt.Fprintln(formatter.Writer, string(value))
			continue
		}
		group, err := ir.MarshalValue(row.Group)
		if err != nil {
			return err
		}
		fmt.Fprintf(formatter.Writer, "%s\t%s\n", value, group)
	}
	return nil
}

func parseAggregation(opts *AggregateOptions) (query.Aggregation, error) {
	agg := query.Aggregation{Operation: query.AggregateOperation(opts.Operation), Field: opts.Field}
	for _, g := range opts.Groups {
		field, op, dated := strings.Cut(g, "@")
		group := query.AggregationGroup{Field: field}
		if dated {
			group.Operation = schema.DateOperation(op)
			switch group.Operation {
			case schema.Year, schema.Quarter, schema.Month, schema.Week, schema.Day:
			default:
				return agg, fmt.Errorf("unknown date operation %q", op)
			}
		}
		agg.Groups = append(agg.Groups, group)
	}
	return agg, agg.Validate()
}
