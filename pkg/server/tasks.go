package server

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/storage"
	"github.com/nicktill/marketpulse/pkg/storage/badger"
)

// RunBadgerGC runs BadgerDB value-log garbage collection every interval until
// ctx is done. Other backends return immediately.
func RunBadgerGC(ctx context.Context, store storage.PointStore, interval time.Duration, clock clockwork.Clock, log zerolog.Logger) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debug().Msg("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("BadgerDB GC scheduler started")

	for {
		select {
		case <-ticker.Chan():
			start := clock.Now()
			// One pass per tick; a 0.5 ratio rewrites files that are at least half garbage.
			err := badgerStore.RunGC(0.5)
			switch {
			case err == nil:
				log.Info().Dur("took", clock.Since(start)).Msg("GC reclaimed disk space")
			case errors.Is(err, badgerdb.ErrNoRewrite):
				log.Debug().Dur("took", clock.Since(start)).Msg("GC found nothing to rewrite")
			default:
				log.Warn().Err(err).Msg("GC failed")
			}
		case <-ctx.Done():
			log.Info().Msg("stopping BadgerDB GC scheduler")
			return
		}
	}
}
