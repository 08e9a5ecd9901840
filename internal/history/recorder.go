package history

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
	"hydroflow/internal/events"
)

const recordTimeout = 5 * time.Second

// EventSource is anything that fans out scheduler lifecycle events.
type EventSource interface {
	SubscribeAll(h events.Handler) (cancel func())
}

// Attach subscribes the store to completion and error events. Insert
// failures are logged, never surfaced to the scheduler.
func Attach(src EventSource, store *Store) (cancel func()) {
	return src.SubscribeAll(func(e domain.Event) {
		a, ok := AttemptFromEvent(e)
		if !ok {
			return
		}
		ctx, cancelCtx := context.WithTimeout(context.Background(), recordTimeout)
		defer cancelCtx()
		if _, err := store.Record(ctx, a); err != nil {
			log.Error().Err(err).Str("boundary", a.BoundaryID).Msg("failed to archive hydration attempt")
		}
	})
}
