package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/pointing/go/internal/dbconfig"
	"github.com/mcdev12/pointing/go/internal/docstore/postgres"
	"github.com/mcdev12/pointing/go/internal/session"
)

// init_store creates the postgres document table. With a JSON file argument
// mapping session id to session document it also seeds those sessions,
// skipping ids that already exist.
func main() {
	ctx := context.Background()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema ready in %s\n", cfg.Database)

	if len(os.Args) < 2 {
		return
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var sessions map[string]json.RawMessage
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	collection := os.Getenv("SESSION_COLLECTION")
	if collection == "" {
		collection = session.DefaultCollection
	}

	var inserted, skipped, errs int
	for rawID, doc := range sessions {
		id, err := session.NormalizeSessionID(rawID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %q: %v\n", rawID, err)
			errs++
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO docstore_documents (collection, id, data)
            VALUES ($1, $2, $3)
            ON CONFLICT (collection, id) DO NOTHING
        `, collection, id, []byte(doc))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting session %s: %v\n", id, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	fmt.Printf("Seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(sessions), inserted, skipped, errs)
	if errs > 0 {
		os.Exit(1)
	}
}
