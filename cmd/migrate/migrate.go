package main

import (
	"fmt"
	"log"
	"os"

	"paper-ingest-platform/internal/config"
	"paper-ingest-platform/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/migrate.go <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate  - Apply the database schema")
		fmt.Println("  counts   - Print per-table row counts")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Open applies the schema idempotently.
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	switch os.Args[1] {
	case "migrate":
		fmt.Printf("Schema applied to %s\n", cfg.DatabasePath)

	case "counts":
		counts, err := st.TableCounts()
		if err != nil {
			log.Fatalf("Failed to count tables: %v", err)
		}
		for table, n := range counts {
			fmt.Printf("%-24s %d\n", table, n)
		}

	default:
		log.Fatalf("Unknown command: %s", os.Args[1])
	}
}
