package store

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/internal/db"
)

// Open picks the store from configuration: Postgres when dsn is set,
// otherwise the embedded store persisted under dataDir. The returned func
// releases the store and, for the embedded store, waits for pending writes.
func Open(ctx context.Context, dsn, dataDir string) (Store, func(), error) {
	if dsn != "" {
		pool, err := db.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: using Postgres")
		return NewPostgresStore(pool), pool.Close, nil
	}

	p, err := NewPersistence(dataDir)
	if err != nil {
		return nil, nil, err
	}
	initial, err := p.LoadAll()
	if err != nil {
		log.WithError(err).Warn("store: could not load existing data")
	}
	ms := NewMemStore(initial, p)
	log.WithFields(log.Fields{"dir": dataDir, "users": len(initial)}).Info("store: using embedded store")
	return ms, ms.Wait, nil
}
