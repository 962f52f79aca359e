// Package query represents queries as data.
//
// A ConditionTree is a recursive boolean expression over field paths:
//
//	Leaf{Field: "author:first_name", Operator: Equal, Value: "Isaac"}
//	Branch{Aggregator: And, Conditions: [...]}
//
// Field paths use ':' to cross relations. A nil ConditionTree matches every
// record; an Or branch with no conditions matches none.
//
// Projection, Filter, Sort, Page and Aggregation complete the algebra.
// Everything here is immutable by convention: functions return new values
// and never modify their arguments.
//
// Nothing in this package touches storage. Match, Sort.Apply and
// Aggregation.Apply evaluate in memory and exist for stores and decorators
// that must emulate what a store cannot do natively.
package query
