// Package testdb starts a disposable PostgreSQL container for integration
// tests, applies the embedded migrations and hands back a *sql.DB. When
// LT_TEST_DATABASE_URL (or DATABASE_URL) is set, that database is used
// instead of a container, which is how CI runs against its service
// container.
//
// Typical use:
//
//	db := testdb.Start(t)
//	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	    tasks := postgres.NewPostgresTaskStore(tx, nil)
//	    ...
//	})
package testdb
