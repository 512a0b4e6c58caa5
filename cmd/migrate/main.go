// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/db"
	"github.com/kjannette/bullion-backend/internal/logging"
)

func main() {
	list := flag.Bool("list", false, "print the migration files without applying them")
	flag.Parse()

	if *list {
		files, err := db.MigrationFiles()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		log.WithError(err).Error("migration failed")
		pool.Close()
		os.Exit(1)
	}
	log.WithField("files", applied).Info("migrations applied")
}
