package customizer

import (
	"context"
	"time"

	"github.com/roach88/strata/internal/decorator"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/schema"
)

// Plugin bundles customizations. cc is nil when the plugin is installed on
// the whole datasource. Customizations a plugin queues run right after
// it.
type Plugin interface {
	Install(ctx context.Context, dc *DatasourceCustomizer, cc *CollectionCustomizer) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, dc *DatasourceCustomizer, cc *CollectionCustomizer) error

func (f PluginFunc) Install(ctx context.Context, dc *DatasourceCustomizer, cc *CollectionCustomizer) error {
	return f(ctx, dc, cc)
}

// RequireFields adds a Present validation to each field. Installed on a
// datasource it needs a collection name in every field, as
// "collection.field"; installed on a collection the fields are plain.
func RequireFields(fields ...string) Plugin {
	return PluginFunc(func(_ context.Context, dc *DatasourceCustomizer, cc *CollectionCustomizer) error {
		for _, f := range fields {
			if cc != nil {
				cc.AddFieldValidation(f, schema.Present, nil)
				continue
			}
			name, field, ok := cut(f)
			if !ok {
				return errs.Validation("field %q must be written collection.field", f)
			}
			dc.Customize(name, func(c *CollectionCustomizer) {
				c.AddFieldValidation(field, schema.Present, nil)
			})
		}
		return nil
	})
}

// StampCreation fills field with the creation time of each new record
// that leaves it unset. Dateonly fields get the date only.
func StampCreation(field string) Plugin {
	return PluginFunc(func(_ context.Context, dc *DatasourceCustomizer, cc *CollectionCustomizer) error {
		if cc == nil {
			return errs.Validation("StampCreation must be installed on a collection")
		}
		clock := dc.clock
		cc.AddHook(decorator.Before, decorator.HookCreate, decorator.HookFunc(func(_ context.Context, hc *decorator.HookContext) error {
			layout := time.RFC3339
			if col, ok := hc.Collection.Schema().Fields[field].(*schema.ColumnSchema); ok && col.ColumnType.Is(schema.Dateonly) {
				layout = time.DateOnly
			}
			now := ir.String(clock.Now().UTC().Format(layout))
			for _, r := range hc.Records {
				if _, set := r[field]; !set {
					r[field] = now
				}
			}
			return nil
		}))
		return nil
	})
}

func cut(ref string) (string, string, bool) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], i > 0 && i < len(ref)-1
		}
	}
	return "", "", false
}
