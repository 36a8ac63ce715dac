package venue

import "time"

// EventSynchronized is the outbox event type recorded with every committed run.
const EventSynchronized = "venues.synchronized"

// SynchronizedEvent is the payload emitted when an owner's venue set is replaced.
type SynchronizedEvent struct {
	SyncID      string         `json:"sync_id"`
	OwnerID     string         `json:"owner_id"`
	Location    string         `json:"location"`
	RadiusMiles int            `json:"radius_miles"`
	ResultCount int            `json:"result_count"`
	Counts      map[string]int `json:"counts"`
	SyncedAt    time.Time      `json:"synced_at"`
}

// Event builds the outbox payload describing the snapshot.
func (s Snapshot) Event() SynchronizedEvent {
	counts := make(map[string]int, len(Categories))
	for c, n := range s.Counts() {
		counts[string(c)] = n
	}
	return SynchronizedEvent{
		SyncID:      s.SyncID,
		OwnerID:     s.OwnerID,
		Location:    s.Location.Location,
		RadiusMiles: s.Location.RadiusMiles,
		ResultCount: s.Location.ResultCount,
		Counts:      counts,
		SyncedAt:    s.Location.SyncedAt,
	}
}
