// Package schema describes collections: columns, relations, operators and
// collection-level capabilities.
//
// Schemas are pure data. Decorators never mutate a schema they received
// from their child; they Clone it and rewrite the copy.
package schema
