// Package decorator implements the collection decorators of the pipeline.
//
// Each decorator wraps exactly one child collection, forwards what it does
// not change, and refines the schema or the filter of the rest. A
// Datasource[T] applies one decorator type to every collection of a child
// datasource; the customizer package stacks them in a fixed order.
//
// Decorators hold configuration only. Request data travels in the
// arguments of every verb.
package decorator
