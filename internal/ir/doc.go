// Package ir provides the record value model shared by every collection
// and decorator.
//
// Records are untyped nested maps in most stores. Here they are represented
// by a sealed tagged value type so rewriting code (flattening, computed
// fields, relation joins) can pattern-match without reflection:
//
//	Value = Null | String | Int | Float | Bool | Bytes | List | Record
//
// Undefined is an extra sentinel that only appears in flattened columns,
// where it means "this path is not present on this record". It is never
// equal to Null.
//
// This package imports nothing internal.
package ir
