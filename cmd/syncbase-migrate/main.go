package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/cuemby/syncbase/pkg/migrate"
	"github.com/cuemby/syncbase/pkg/storage"
)

var (
	dataDir   = flag.String("data-dir", ".", "syncbase data directory")
	target    = flag.Int("downgrade-to", -1, "run stored down-migrations until the schema reaches this version; -1 means do nothing")
	showState = flag.Bool("status", false, "print the current migration version and exit")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("syncbase migration tool")
	log.Println("========================")

	dbPath := filepath.Join(*dataDir, "syncbase.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}

	adapter, err := storage.OpenSQLiteAdapter(*dataDir)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()

	if *showState {
		tx, err := adapter.Begin(ctx)
		if err != nil {
			log.Fatalf("begin transaction: %v", err)
		}
		defer tx.Rollback()
		version, err := migrate.CurrentVersion(ctx, tx)
		if err != nil {
			log.Fatalf("read migration version: %v", err)
		}
		log.Printf("current schema version: %d (latest known: %d)", version, migrate.LatestVersion)
		return
	}

	if *target < 0 {
		log.Println("nothing to do: pass -downgrade-to <version> or -status")
		return
	}

	tx, err := adapter.Begin(ctx)
	if err != nil {
		log.Fatalf("begin transaction: %v", err)
	}
	if err := migrate.Downgrade(ctx, tx, *target); err != nil {
		tx.Rollback()
		log.Fatalf("downgrade failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("commit downgrade: %v", err)
	}
	log.Printf("downgraded to version %d", *target)
}
