package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SourceOptions{}

	cmd := &cobra.Command{
		Use:   "schema <definition.cue> [collection...]",
		Short: "Print the decorated schema of collections",
		Long: `Print collection schemas as seen through the decorator stack:
filter operators include emulated ones and renamed fields use their
public names.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, rootOpts, opts, args[0], args[1:])
		},
	}

	opts.bind(cmd)
	return cmd
}

func runSchema(cmd *cobra.Command, rootOpts *RootOptions, opts *SourceOptions, path string, names []string) error {
	formatter := newFormatter(rootOpts, cmd.OutOrStdout())

	src, err := OpenSource(commandContext(cmd), path, *opts, rootOpts.logger())
	if err != nil {
		return loadFailure(formatter, err)
	}
	defer src.Close()

	var collections []collection.Collection
	if len(names) == 0 {
		collections = src.Datasource.Collections()
	}
	for _, name := range names {
		c, err := src.Datasource.Collection(name)
		if err != nil {
			return formatter.Fail("unknown collection", err)
		}
		collections = append(collections, c)
	}

	if formatter.Format == "json" {
		return formatter.Success(lo.SliceToMap(collections, func(c collection.Collection) (string, *schema.CollectionSchema) {
			return c.Name(), c.Schema()
		}))
	}
	return writeSchemas(formatter.Writer, collections)
}

// writeSchemas prints one block per collection, fields sorted by name.
func writeSchemas(w io.Writer, collections []collection.Collection) error {
	for i, c := range collections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		s := c.Schema()
		fmt.Fprintln(w, c.Name()+schemaFlags(s))

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, name := range s.FieldNames() {
			fmt.Fprintf(tw, "  %s\t%s\n", name, describeField(s.Fields[name]))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
	}
	return nil
}

func schemaFlags(s *schema.CollectionSchema) string {
	var flags []string
	if s.Countable {
		flags = append(flags, "countable")
	}
	if s.Searchable {
		flags = append(flags, "searchable")
	}
	if len(s.Segments) > 0 {
		flags = append(flags, "segments="+strings.Join(s.Segments, ","))
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func describeField(f schema.FieldSchema) string {
	col, ok := f.(*schema.ColumnSchema)
	if !ok {
		return fmt.Sprintf("%s\t-> %s", f.FieldType(), strings.Join(schema.ReferencedCollections(f), ", "))
	}
	var attrs []string
	if col.IsPrimaryKey {
		attrs = append(attrs, "pk")
	}
	if col.IsReadOnly {
		attrs = append(attrs, "read-only")
	}
	if len(col.EnumValues) > 0 {
		attrs = append(attrs, "enum="+strings.Join(col.EnumValues, "|"))
	}
	ops := lo.Map(col.FilterOperators.Slice(), func(op schema.Operator, _ int) string { return string(op) })
	attrs = append(attrs, "["+strings.Join(ops, " ")+"]")
	return fmt.Sprintf("%s\t%s", col.ColumnType, strings.Join(attrs, " "))
}
