// Package publish fans appended readings out to downstream consumers.
package publish

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/pkg/schema"
)

// publishTimeout is the max time allowed for a single async publish.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before
// closing the publisher, so in-flight async publishes can finish.
const ShutdownDrainDuration = publishTimeout

// Publisher emits readings. Callers use it best-effort: log and ignore errors.
type Publisher interface {
	Publish(ctx context.Context, r schema.Reading) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

// Async runs Publish in a goroutine with a short timeout so the caller is not
// blocked. The goroutine uses context.Background() so request cancellation
// does not abort an in-flight publish. A nil publisher is a no-op.
func Async(p Publisher, r schema.Reading) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, r); err != nil {
			log.WithError(err).WithField("reading_id", r.ID).Warn("publish: async publish failed")
		}
	}()
}
