package customizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/decorator"
	"github.com/roach88/strata/internal/errs"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/memory"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/testutil"
)

// closingLibrary is the seeded library with a Close that counts calls.
type closingLibrary struct {
	*memory.Datasource
	closed *atomic.Int32
}

func (l closingLibrary) Close() error {
	l.closed.Add(1)
	return nil
}

func libraryFactory(t *testing.T) DatasourceFactory {
	return func(context.Context) (collection.Datasource, error) {
		return testutil.Library(t), nil
	}
}

func newCustomizer(t *testing.T) *DatasourceCustomizer {
	return New(WithClock(testutil.NewClock())).AddDatasource(libraryFactory(t))
}

func top(t *testing.T, d *DatasourceCustomizer, name string) collection.Collection {
	t.Helper()
	ds, err := d.Datasource(context.Background())
	require.NoError(t, err)
	c, err := ds.Collection(name)
	require.NoError(t, err)
	return c
}

func listAll(t *testing.T, c collection.Collection, sortField string, fields ...string) []ir.Record {
	t.Helper()
	filter := query.NewPaginatedFilter(nil).WithSort(query.Sort{{Field: sortField, Ascending: true}})
	records, err := c.List(context.Background(), testutil.Caller(), filter, query.NewProjection(fields...))
	require.NoError(t, err)
	return records
}

func values(records []ir.Record, path string) []ir.Value {
	out := make([]ir.Value, len(records))
	for i, r := range records {
		out[i] = query.GetValue(r, path)
	}
	return out
}

func strs(values ...string) []ir.Value {
	out := make([]ir.Value, len(values))
	for i, v := range values {
		out[i] = ir.String(v)
	}
	return out
}

func byID(id ir.Value) query.Filter {
	return query.Filter{ConditionTree: query.NewLeaf("id", schema.Equal, id)}
}

func fullName() decorator.ComputedDefinition {
	return decorator.ComputedDefinition{
		ColumnType:   schema.Primitive(schema.String),
		Dependencies: []string{"first_name", "last_name"},
		Computer: decorator.ComputerFunc(func(_ context.Context, _ decorator.ComputeContext, records []ir.Record) ([]ir.Value, error) {
			out := make([]ir.Value, len(records))
			for i, r := range records {
				first, _ := ir.AsString(r["first_name"])
				last, _ := ir.AsString(r["last_name"])
				out[i] = ir.String(first + " " + last)
			}
			return out, nil
		}),
	}
}

func TestCustomizer_NothingRunsBeforeApply(t *testing.T) {
	built := 0
	d := New().AddDatasource(func(context.Context) (collection.Datasource, error) {
		built++
		return testutil.Library(t), nil
	})

	assert.Zero(t, built)
	assert.Empty(t, d.Stack().Datasource.Collections())

	require.NoError(t, d.Apply(context.Background()))
	assert.Equal(t, 1, built)
	assert.Len(t, d.Stack().Datasource.Collections(), 3)

	require.NoError(t, d.Apply(context.Background()))
	assert.Equal(t, 1, built)
}

func TestCustomizer_ChildrenRunBeforeSiblings(t *testing.T) {
	d := New()
	var order []string
	step := func(name string) Customization {
		return func(context.Context, *Stack) error {
			order = append(order, name)
			return nil
		}
	}
	d.Enqueue("a", func(ctx context.Context, s *Stack) error {
		order = append(order, "a")
		scoped := d.Scope(ctx)
		scoped.Enqueue("a1", func(ctx context.Context, _ *Stack) error {
			order = append(order, "a1")
			d.Scope(ctx).Enqueue("a1x", step("a1x"))
			return nil
		})
		scoped.Enqueue("a2", step("a2"))
		return nil
	})
	d.Enqueue("b", step("b"))

	require.NoError(t, d.Apply(context.Background()))
	assert.Equal(t, []string{"a", "a1", "a1x", "a2", "b"}, order)

	// Reload replays the roots, which enqueue their children again.
	order = nil
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, []string{"a", "a1", "a1x", "a2", "b"}, order)
}

// A customization enqueued from another goroutine while the queue drains
// is a root of its own: it runs on the next Apply and is replayed.
func TestCustomizer_ConcurrentEnqueueIsRoot(t *testing.T) {
	d := New()
	var (
		mu    sync.Mutex
		order []string
		once  sync.Once
	)
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}
	d.Enqueue("a", func(context.Context, *Stack) error {
		record("a")
		once.Do(func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				d.Enqueue("outside", func(context.Context, *Stack) error {
					record("outside")
					return nil
				})
			}()
			<-done
		})
		return nil
	})

	require.NoError(t, d.Apply(context.Background()))
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, 1, d.queue.Len())

	require.NoError(t, d.Apply(context.Background()))
	assert.Equal(t, []string{"a", "outside"}, order)

	order = nil
	require.NoError(t, d.Reload(context.Background()))
	assert.Equal(t, []string{"a", "outside"}, order)
	assert.Zero(t, d.queue.Len())
}

func TestCustomizer_ScopeOutsideDrainIsSelf(t *testing.T) {
	d := New()
	assert.Same(t, d, d.Scope(context.Background()))
}

func TestCustomizer_AddFieldAndCamelCase(t *testing.T) {
	d := newCustomizer(t).
		Customize("person", func(c *CollectionCustomizer) {
			c.AddField("full_name", fullName())
		}).
		CamelCaseFields()

	people := top(t, d, "person")
	fields := people.Schema().FieldNames()
	assert.Contains(t, fields, "fullName")
	assert.Contains(t, fields, "firstName")
	assert.NotContains(t, fields, "first_name")

	records := listAll(t, people, "id", "id", "fullName")
	assert.Equal(t, strs("Isaac Asimov", "Ursula Le Guin"), values(records, "fullName"))
}

func TestCustomizer_FailureNamesCustomization(t *testing.T) {
	d := newCustomizer(t).
		Customize("person", func(c *CollectionCustomizer) {
			c.AddField("broken", decorator.ComputedDefinition{
				ColumnType:   schema.Primitive(schema.String),
				Dependencies: []string{"nickname"},
				Computer:     fullName().Computer,
			})
		}).
		Customize("book", func(c *CollectionCustomizer) {
			c.DisableCount()
		})

	err := d.Apply(context.Background())
	require.Error(t, err)
	label, ok := FailedCustomization(err)
	require.True(t, ok)
	assert.Equal(t, "person: add field broken", label)
	assert.True(t, errs.IsValidation(err))

	// The datasource was added before the failure; the book customization
	// queued after it was dropped.
	books, err := d.Stack().Datasource.Collection("book")
	require.NoError(t, err)
	assert.True(t, books.Schema().Countable)
	assert.NoError(t, d.Apply(context.Background()))
}

func TestCustomizer_UnknownCollection(t *testing.T) {
	d := newCustomizer(t).Customize("magazine", func(c *CollectionCustomizer) {
		c.DisableCount()
	})
	err := d.Apply(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
	label, _ := FailedCustomization(err)
	assert.Equal(t, "magazine: disable count", label)
}

func TestCustomizer_ComputedLayerFollowsDependencies(t *testing.T) {
	d := newCustomizer(t).Customize("book", func(c *CollectionCustomizer) {
		c.AddManyToOneRelation("writer", "person", "author_id")
		c.AddField("author_last", decorator.ComputedDefinition{
			ColumnType:   schema.Primitive(schema.String),
			Dependencies: []string{"author:last_name"},
			Computer:     lastName("author:last_name"),
		})
		c.AddField("writer_last", decorator.ComputedDefinition{
			ColumnType:   schema.Primitive(schema.String),
			Dependencies: []string{"writer:last_name"},
			Computer:     lastName("writer:last_name"),
		})
	})
	books := top(t, d, "book")

	s := d.Stack()
	early, err := s.EarlyComputed.Get("book")
	require.NoError(t, err)
	late, err := s.LateComputed.Get("book")
	require.NoError(t, err)
	assert.Contains(t, early.Schema().Fields, "author_last")
	assert.NotContains(t, early.Schema().Fields, "writer_last")
	assert.Contains(t, late.Schema().Fields, "writer_last")

	records := listAll(t, books, "title", "title", "author_last", "writer_last")
	assert.Equal(t, strs("Asimov", "Asimov", "Le Guin"), values(records, "author_last"))
	assert.Equal(t, values(records, "author_last"), values(records, "writer_last"))
}

func lastName(path string) decorator.Computer {
	return decorator.ComputerFunc(func(_ context.Context, _ decorator.ComputeContext, records []ir.Record) ([]ir.Value, error) {
		out := make([]ir.Value, len(records))
		for i, r := range records {
			out[i] = query.GetValue(r, path)
		}
		return out, nil
	})
}

func TestCustomizer_ImportField(t *testing.T) {
	d := newCustomizer(t).Customize("book", func(c *CollectionCustomizer) {
		c.ImportField("author_first", "author:first_name", false)
		c.ImportField("author_birth", "author:birth_date", true)
	})
	books := top(t, d, "book")

	col, ok := books.Schema().Fields["author_first"].(*schema.ColumnSchema)
	require.True(t, ok)
	assert.False(t, col.IsReadOnly)
	birth, ok := books.Schema().Fields["author_birth"].(*schema.ColumnSchema)
	require.True(t, ok)
	assert.True(t, birth.IsReadOnly)
	assert.True(t, birth.ColumnType.Is(schema.Dateonly))

	records := listAll(t, books, "title", "title", "author_first")
	assert.Equal(t, strs("Isaac", "Isaac", "Ursula"), values(records, "author_first"))

	ctx := context.Background()
	require.NoError(t, books.Update(ctx, testutil.Caller(), byID(ir.String("b3")), ir.Record{"author_first": ir.String("U. K.")}))

	people := top(t, d, "person")
	assert.Equal(t, strs("Isaac", "U. K."), values(listAll(t, people, "id", "first_name"), "first_name"))
}

func TestCustomizer_PublicNamesAfterRename(t *testing.T) {
	d := newCustomizer(t).
		RenameCollection("person", "author").
		Customize("author", func(c *CollectionCustomizer) {
			c.RemoveField("birth_date")
		}).
		Customize("book", func(c *CollectionCustomizer) {
			c.AddManyToOneRelation("writer", "author", "author_id")
		})

	authors := top(t, d, "author")
	assert.NotContains(t, authors.Schema().Fields, "birth_date")

	books := top(t, d, "book")
	writer, ok := books.Schema().Fields["writer"].(*schema.ManyToOneSchema)
	require.True(t, ok)
	assert.Equal(t, "author", writer.ForeignCollection)

	records := listAll(t, books, "title", "title", "writer:last_name")
	assert.Equal(t, strs("Asimov", "Asimov", "Le Guin"), values(records, "writer:last_name"))
}

func TestCustomizer_RemoveCollectionAndCharts(t *testing.T) {
	d := newCustomizer(t).
		RemoveCollection("passport").
		AddChart("books", decorator.ChartRendererFunc(func(context.Context, decorator.ChartContext) (collection.Chart, error) {
			return collection.Chart{Type: collection.ChartValue, Value: ir.Int(3)}, nil
		}))

	ds, err := d.Datasource(context.Background())
	require.NoError(t, err)
	_, err = ds.Collection("passport")
	assert.True(t, errs.IsNotFound(err))
	assert.Contains(t, ds.Schema().Charts, "books")

	chart, err := ds.RenderChart(context.Background(), testutil.Caller(), "books")
	require.NoError(t, err)
	assert.Equal(t, collection.Chart{Type: collection.ChartValue, Value: ir.Int(3)}, chart)
}

func TestCustomizer_Plugins(t *testing.T) {
	d := newCustomizer(t).
		Use(RequireFields("person.first_name")).
		Customize("book", func(c *CollectionCustomizer) {
			c.Use(StampCreation("published"))
		})
	ctx := context.Background()

	_, err := top(t, d, "person").Create(ctx, testutil.Caller(), []ir.Record{{"first_name": ir.Null{}, "last_name": ir.String("Anonymous")}})
	assert.True(t, errs.IsUnprocessable(err))

	created, err := top(t, d, "book").Create(ctx, testutil.Caller(), []ir.Record{{"title": ir.String("Kindred")}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, ir.String("2024-03-15"), created[0]["published"])
}

func TestCustomizer_PluginErrors(t *testing.T) {
	err := newCustomizer(t).Use(RequireFields("first_name")).Apply(context.Background())
	assert.True(t, errs.IsValidation(err))
	label, _ := FailedCustomization(err)
	assert.Equal(t, "use plugin", label)

	err = newCustomizer(t).Use(StampCreation("published")).Apply(context.Background())
	assert.True(t, errs.IsValidation(err))
}

func TestCustomizer_ReloadRebuildsLeaves(t *testing.T) {
	var built, closed atomic.Int32
	fail := atomic.Bool{}
	d := New(WithClock(testutil.NewClock())).
		AddDatasource(func(context.Context) (collection.Datasource, error) {
			if fail.Load() {
				return nil, errors.New("connection refused")
			}
			built.Add(1)
			return closingLibrary{Datasource: testutil.Library(t), closed: &closed}, nil
		}).
		Customize("person", func(c *CollectionCustomizer) {
			c.AddField("full_name", fullName())
		})
	ctx := context.Background()

	people := top(t, d, "person")
	require.NoError(t, people.Update(ctx, testutil.Caller(), byID(ir.Int(1)), ir.Record{"first_name": ir.String("Ike")}))
	assert.Equal(t, strs("Ike Asimov", "Ursula Le Guin"), values(listAll(t, people, "id", "full_name"), "full_name"))

	require.NoError(t, d.Reload(ctx))
	assert.Equal(t, int32(2), built.Load())
	assert.Equal(t, int32(1), closed.Load())

	// A fresh leaf: the update made before the reload is gone.
	people = top(t, d, "person")
	assert.Equal(t, strs("Isaac Asimov", "Ursula Le Guin"), values(listAll(t, people, "id", "full_name"), "full_name"))

	before := d.Stack()
	fail.Store(true)
	d.Customize("book", func(c *CollectionCustomizer) { c.DisableCount() })
	err := d.Reload(ctx)
	require.Error(t, err)
	label, _ := FailedCustomization(err)
	assert.Equal(t, "add datasource", label)
	assert.Same(t, before, d.Stack())
	assert.Equal(t, int32(1), closed.Load())
	assert.Equal(t, 1, d.queue.Len())

	// The previous stack keeps serving, and the pending customization is
	// applied to it on the next Apply.
	fail.Store(false)
	books := top(t, d, "book")
	assert.False(t, books.Schema().Countable)
	assert.Equal(t, int32(2), built.Load())
}

func TestCustomizer_ReadersDuringReload(t *testing.T) {
	d := newCustomizer(t).CamelCaseFields()
	ctx := context.Background()
	require.NoError(t, d.Apply(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			assert.NoError(t, d.Reload(ctx))
		}
	}()
	for i := 0; i < 50; i++ {
		c, err := d.Stack().Datasource.Collection("person")
		require.NoError(t, err)
		assert.Contains(t, c.Schema().Fields, "firstName")
	}
	<-done
}
