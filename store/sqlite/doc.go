// Package sqlite implements store.Store on SQLite using sqlx and the
// mattn/go-sqlite3 driver. Suitable for single-node deployments, CLI tools
// and tests.
//
// Open owns the database it creates; New wraps a handle the caller owns:
//
//	s, err := sqlite.Open(ctx, "saga.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	err = s.Migrate(ctx)
package sqlite
