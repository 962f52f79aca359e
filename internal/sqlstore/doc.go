// Package sqlstore is a leaf datasource backed by SQLite.
//
// Each collection is one table named after it. Filters, sorts and pages are
// compiled to parameterized SQL; to-one relations in paths become LEFT
// JOINs. Operators the compiler does not translate are left out of the
// column schemas, so the decorators above emulate them.
//
// Value mapping:
//
//	Boolean  INTEGER (0/1)
//	Number   NUMERIC
//	Binary   BLOB
//	Json     TEXT holding JSON
//	others   TEXT
package sqlstore
