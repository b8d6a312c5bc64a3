package db

import (
	"fmt"
	"io"
)

// MigrateActions lists the actions accepted by RunMigrateCommand.
var MigrateActions = []string{"up", "down", "status"}

// RunMigrateCommand applies a migration action to the results database at
// dbPath and writes the resulting schema state to w. Opening the database
// already brings it to the latest version, so "down" rolls back one step
// from there.
func RunMigrateCommand(w io.Writer, action, dbPath string) error {
	switch action {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unknown migrate action %q (want one of %v)", action, MigrateActions)
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		err = database.MigrateUp()
	case "down":
		err = database.MigrateDown()
	}
	if err != nil {
		return err
	}
	return database.writeMigrateStatus(w)
}

func (db *DB) writeMigrateStatus(w io.Writer) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest version: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(w, "WARNING: a migration failed mid-execution; inspect the database before fitting into it")
	}
	return nil
}
