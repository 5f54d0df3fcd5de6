package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"aprsrelay/internal/migrations"
	"aprsrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./aprsrelay.db", "Path to the database file")
	list := flag.Bool("list", false, "List the embedded migrations and exit")
	flag.Parse()

	if *list {
		if err := listMigrations(os.Stdout); err != nil {
			logrus.Fatalf("Failed to list migrations: %v", err)
		}
		return
	}

	if err := migrate(context.Background(), *dbPath, os.Stdout); err != nil {
		logrus.Fatalf("Migration failed: %v", err)
	}
}

func listMigrations(out io.Writer) error {
	all, err := migrations.List()
	if err != nil {
		return err
	}
	for _, m := range all {
		fmt.Fprintf(out, "%03d %s\n", m.Version, m.Name)
	}
	return nil
}

// migrate applies pending migrations to an existing database file
func migrate(ctx context.Context, dbPath string, out io.Writer) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.Run(ctx, db)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "Database schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(out, "Applied %s\n", name)
	}
	fmt.Fprintln(out, "Database schema updated. You can now restart aprsrelay.")
	return nil
}
