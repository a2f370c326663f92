// Package database provides the SQLite connection used to persist Homeflow
// state: devices, automations, alerts, state history and run logs.
//
// The pool is capped at one connection because SQLite serialises writers.
// WAL mode keeps readers unblocked while a write is in flight.
//
// # Migrations
//
// Schema changes live in versioned .up.sql/.down.sql pairs and are applied
// from any fs.FS through a MigrationSource. The binary embeds them from the
// top-level migrations package:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns must be nullable or carry a default.
//
// All queries use parameterised statements.
package database
