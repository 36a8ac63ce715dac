package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/venues/internal/venue"
)

// SyncLogHandler records every committed synchronization in venue_sync_log.
// Redelivered events are ignored by sync_id.
type SyncLogHandler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSyncLogHandler constructs a handler backed by the provided pool.
func NewSyncLogHandler(pool *pgxpool.Pool, logger *slog.Logger) *SyncLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncLogHandler{pool: pool, logger: logger}
}

// Handle stores venues.synchronized events; other event types are skipped.
func (h *SyncLogHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != venue.EventSynchronized {
		h.logger.Debug("skipping event", slog.String("event_type", msg.EventType))
		return nil
	}

	var event venue.SynchronizedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, msg.EventType, err)
	}
	if event.SyncID == "" || event.OwnerID == "" {
		return fmt.Errorf("%w: %s event missing sync_id or owner_id", ErrMalformedEvent, msg.EventType)
	}

	counts, err := json.Marshal(event.Counts)
	if err != nil {
		return err
	}

	_, err = h.pool.Exec(ctx,
		`INSERT INTO venue_sync_log (sync_id, owner_id, location, radius_miles, result_count, counts, synced_at, kafka_topic, kafka_partition, kafka_offset)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (sync_id) DO NOTHING`,
		event.SyncID,
		event.OwnerID,
		event.Location,
		event.RadiusMiles,
		event.ResultCount,
		counts,
		event.SyncedAt,
		msg.Topic,
		msg.Partition,
		msg.Offset,
	)
	return err
}
