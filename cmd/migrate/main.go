// Command migrate applies the Postgres schema and can import an embedded
// JSON data directory into the database.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/internal/config"
	"github.com/udit1567/Home.auto/internal/db"
	"github.com/udit1567/Home.auto/internal/db/migrate"
	"github.com/udit1567/Home.auto/internal/logging"
	"github.com/udit1567/Home.auto/internal/store"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	importDir := flag.String("import-dir", "", "embedded store directory to copy into Postgres after migrating up")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	log.WithField("direction", *direction).Info("migrations applied")

	if *importDir == "" || *direction != "up" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := store.NewPersistence(*importDir)
	if err != nil {
		log.WithError(err).Fatal("open import dir")
	}
	data, err := p.LoadAll()
	if err != nil {
		log.WithError(err).Fatal("load import dir")
	}
	src := store.NewMemStore(data, nil)

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer pool.Close()

	users, readings, err := store.Migrate(ctx, src, store.NewPostgresStore(pool))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"users": users, "readings": readings}).Fatal("import")
	}
	log.WithFields(log.Fields{"users": users, "readings": readings}).Info("import complete")
}
