package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	dbfs "github.com/garnizeh/placement/db"
	"github.com/garnizeh/placement/internal/config"
	"github.com/garnizeh/placement/internal/db"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	// run migrations and seed using internal/db.Migrate
	if err := db.Migrate(ctx, database, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}

	rows, err := database.QueryRows(ctx, `SELECT template_kind, language, current_number FROM document_sequences ORDER BY template_kind, language`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List sequences error: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, lang string
		var next int64
		if err := rows.Scan(&kind, &lang, &next); err != nil {
			fmt.Fprintf(os.Stderr, "List sequences error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sequence %s/%s next=%d\n", kind, lang, next)
	}

	fmt.Printf("Database %s initialized successfully.\n", cfg.DatabasePath)
}
