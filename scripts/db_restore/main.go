package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/garnizeh/placement/internal/config"
	"github.com/garnizeh/placement/internal/db"
)

// The server must be stopped before restoring; the database file is
// replaced in place.
func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	in := flag.String("in", "", "Backup file (default <database_path>.bak)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	src := *in
	if src == "" {
		src = cfg.DatabasePath + ".bak"
	}
	dst := cfg.DatabasePath

	if err := verify(context.Background(), src); err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: backup %s rejected: %v\n", src, err)
		os.Exit(1)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: %v\n", err)
		os.Exit(1)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: %v\n", err)
		os.Exit(1)
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database restored from %s.\n", src)
}

// verify opens the backup and checks that it is an intact, migrated database.
func verify(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	d, err := db.New(ctx, "file:"+path+"?mode=ro", nil)
	if err != nil {
		return err
	}
	defer d.Close()

	var status string
	if err := d.QueryRow(ctx, `PRAGMA integrity_check`).Scan(&status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("integrity check: %s", status)
	}
	var migrations int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&migrations); err != nil {
		return fmt.Errorf("not a placement database: %w", err)
	}
	if migrations == 0 {
		return fmt.Errorf("no migrations recorded")
	}
	return nil
}
