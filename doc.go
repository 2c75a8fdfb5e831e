// Package anser is a polymorphic database connector. It dispatches requests
// described by first-class parameter and row types (package field) to a
// driver resolved from the URI scheme, and manages connection lifecycle
// either directly or through a bounded pool (package pool).
//
// A request couples a query template with the types of its parameters and
// result rows and a row multiplicity contract:
//
//	var userName = anser.MustNewRequest(
//		field.Int64, field.String, anser.One,
//		"SELECT name FROM users WHERE id = ?")
//
//	err := anser.WithConnection(ctx, "postgresql://localhost/app", nil,
//		func(conn anser.Conn) error {
//			name, err := anser.Find(ctx, conn, userName, int64(17))
//			...
//		})
//
// Errors are values of type *Error tagged with the failing phase; no API in
// this package panics on server or transport failure.
//
// Driver implementations register themselves by URI scheme, typically from
// an init function, the way database/sql drivers do:
//
//	import _ "github.com/anserdb/anser/postgres"
package anser
