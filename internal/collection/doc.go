// Package collection defines the contract every store and every decorator
// implements, and the helpers that operate on that contract alone.
//
// A Collection is a named set of records with a schema. A Datasource is a
// set of collections that can reference each other through relations.
// Decorators wrap collections and expose the same interfaces, so callers
// cannot tell a leaf store from a fully decorated one.
//
// Request-scoped data travels in arguments: the context.Context and the
// *Caller. Nothing in a Collection implementation may retain either.
package collection
