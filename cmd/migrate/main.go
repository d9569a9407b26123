// migrate applies every *.up.sql file in the migrations directory, in
// lexicographic order, against DATABASE_URL. It is the CLI counterpart of
// an admin HTTP handler, adapted to a one-shot command since this service
// exposes no admin HTTP surface.
// It deliberately uses database/sql + lib/pq rather than pgx: a plain
// driver keeps the migration runner decoupled from the application pool's
// pgvector type registration.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/migrate -dir ./migrations
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing *.up.sql files")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("migrate: DATABASE_URL is required")
	}

	if err := run(dbURL, *dir); err != nil {
		log.Fatal(err)
	}
}

func run(dbURL, dir string) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("migrate: ping: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("migrate: read dir %s: %w", dir, err)
	}

	var upFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		path := filepath.Join(dir, name)
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", name, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		log.Printf("migrate: applied %s", name)
	}
	return nil
}
