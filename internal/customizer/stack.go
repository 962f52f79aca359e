package customizer

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/collection"
	"github.com/roach88/strata/internal/decorator"
)

// Stack is one instance of every decorator layer over a composite of leaf
// datasources. Layers are listed bottom to top; Datasource is the top.
//
// Customizations address the layer that owns the capability, never the
// top: a computed field goes to one of the Computed layers, a field rename
// to RenameField.
type Stack struct {
	Leaves *collection.Composite

	Override         *decorator.Datasource[*decorator.OverrideCollection]
	Empty            *decorator.Datasource[*decorator.EmptyCollection]
	BaseEquivalence  *decorator.Datasource[*decorator.EquivalenceCollection]
	EarlyComputed    *decorator.Datasource[*decorator.ComputedCollection]
	EarlyEmulate     *decorator.Datasource[*decorator.OperatorEmulateCollection]
	EarlyEquivalence *decorator.Datasource[*decorator.EquivalenceCollection]
	Relation         *decorator.Datasource[*decorator.RelationCollection]
	LazyJoin         *decorator.Datasource[*decorator.LazyJoinCollection]
	LateComputed     *decorator.Datasource[*decorator.ComputedCollection]
	LateEmulate      *decorator.Datasource[*decorator.OperatorEmulateCollection]
	LateEquivalence  *decorator.Datasource[*decorator.EquivalenceCollection]
	Search           *decorator.Datasource[*decorator.SearchCollection]
	Segment          *decorator.Datasource[*decorator.SegmentCollection]
	Sort             *decorator.Datasource[*decorator.SortCollection]
	Chart            *decorator.ChartDatasource
	Action           *decorator.Datasource[*decorator.ActionCollection]
	SchemaOverride   *decorator.Datasource[*decorator.SchemaOverrideCollection]
	RelationWrite    *decorator.Datasource[*decorator.RelationWriteCollection]
	WriteReplace     *decorator.Datasource[*decorator.WriteReplaceCollection]
	Hook             *decorator.Datasource[*decorator.HookCollection]
	Validation       *decorator.Datasource[*decorator.ValidationCollection]
	Binary           *decorator.Datasource[*decorator.BinaryCollection]
	Publication      *decorator.PublicationDatasource
	RenameField      *decorator.Datasource[*decorator.RenameFieldCollection]
	RenameCollection *decorator.RenameCollectionDatasource
	Datasource       collection.Datasource
}

// NewStack builds every layer over an empty composite.
func NewStack(clock clockwork.Clock, logger *slog.Logger) *Stack {
	s := &Stack{Leaves: collection.NewComposite()}

	s.Override = decorator.NewOverrideDatasource(s.Leaves)
	s.Empty = decorator.NewEmptyDatasource(s.Override)
	s.BaseEquivalence = decorator.NewEquivalenceDatasource(s.Empty, clock)

	s.EarlyComputed = decorator.NewComputedDatasource(s.BaseEquivalence, clock, logger)
	s.EarlyEmulate = decorator.NewOperatorEmulateDatasource(s.EarlyComputed, clock, logger)
	s.EarlyEquivalence = decorator.NewEquivalenceDatasource(s.EarlyEmulate, clock)

	s.Relation = decorator.NewRelationDatasource(s.EarlyEquivalence, clock)
	s.LazyJoin = decorator.NewLazyJoinDatasource(s.Relation)

	s.LateComputed = decorator.NewComputedDatasource(s.LazyJoin, clock, logger)
	s.LateEmulate = decorator.NewOperatorEmulateDatasource(s.LateComputed, clock, logger)
	s.LateEquivalence = decorator.NewEquivalenceDatasource(s.LateEmulate, clock)

	s.Search = decorator.NewSearchDatasource(s.LateEquivalence)
	s.Segment = decorator.NewSegmentDatasource(s.Search)
	s.Sort = decorator.NewSortDatasource(s.Segment)
	s.Chart = decorator.NewChartDatasource(s.Sort)
	s.Action = decorator.NewActionDatasource(s.Chart)
	s.SchemaOverride = decorator.NewSchemaOverrideDatasource(s.Action)
	s.RelationWrite = decorator.NewRelationWriteDatasource(s.SchemaOverride)
	s.WriteReplace = decorator.NewWriteReplaceDatasource(s.RelationWrite)
	s.Hook = decorator.NewHookDatasource(s.WriteReplace)
	s.Validation = decorator.NewValidationDatasource(s.Hook, clock)
	s.Binary = decorator.NewBinaryDatasource(s.Validation)
	s.Publication = decorator.NewPublicationDatasource(s.Binary)
	s.RenameField = decorator.NewRenameFieldDatasource(s.Publication)
	s.RenameCollection = decorator.NewRenameCollectionDatasource(s.RenameField)

	s.Datasource = s.RenameCollection
	return s
}

// childName maps a public collection name to the name every layer below
// the collection rename uses.
func (s *Stack) childName(name string) string {
	return s.RenameCollection.ChildName(name)
}
