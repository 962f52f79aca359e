// Package memory implements a leaf datasource that keeps records in memory.
//
// It evaluates every filter operator with query.Match and natively joins
// many-to-one and one-to-one relations declared in its schemas. It backs
// the CLI when fixtures are loaded without a database, and most tests.
package memory
