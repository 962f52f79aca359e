package collection

import (
	"context"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
)

// Collection is the uniform contract over a set of records.
type Collection interface {
	Name() string
	Datasource() Datasource
	Schema() *schema.CollectionSchema

	List(ctx context.Context, caller *Caller, filter query.PaginatedFilter, projection query.Projection) ([]ir.Record, error)
	Create(ctx context.Context, caller *Caller, records []ir.Record) ([]ir.Record, error)
	Update(ctx context.Context, caller *Caller, filter query.Filter, patch ir.Record) error
	Delete(ctx context.Context, caller *Caller, filter query.Filter) error
	Aggregate(ctx context.Context, caller *Caller, filter query.Filter, aggregation query.Aggregation, limit int) ([]query.AggregateResult, error)

	Execute(ctx context.Context, caller *Caller, action string, form ir.Record, filter query.Filter) (ActionResult, error)
	RenderChart(ctx context.Context, caller *Caller, chart string, id []ir.Value) (Chart, error)
}

// DatasourceSchema lists the charts defined at datasource level.
type DatasourceSchema struct {
	Charts []string `json:"charts"`
}

// Datasource groups collections that may reference each other.
type Datasource interface {
	Collections() []Collection
	Collection(name string) (Collection, error)
	Schema() DatasourceSchema
	RenderChart(ctx context.Context, caller *Caller, chart string) (Chart, error)

	// NativeQuery runs a store-specific query. The connection name is
	// forwarded unchanged to the store that owns it.
	NativeQuery(ctx context.Context, connection, query string, params ir.Record) ([]ir.Record, error)
}
