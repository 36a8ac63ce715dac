package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/venues/internal/venue"
)

// Repository provides Postgres-backed persistence for venues, home locations and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectVenueColumns = `SELECT venue_id::text, owner_id, category, name, image_url, detail_url, rating, price, sync_id::text, created_at FROM venues`

// ReplaceOwnerVenues swaps the owner's venue set, home location and outbox
// event inside a single transaction. Concurrent replacements for the same
// owner queue on a transaction-scoped advisory lock.
func (r *Repository) ReplaceOwnerVenues(ctx context.Context, snapshot venue.Snapshot) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", snapshot.OwnerID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", snapshot.OwnerID); err != nil {
		return err
	}

	categories := make([]string, len(venue.Categories))
	for i, c := range venue.Categories {
		categories[i] = string(c)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM venues WHERE owner_id = $1 AND category = ANY($2)`, snapshot.OwnerID, categories); err != nil {
		return err
	}

	if err = insertVenues(ctx, tx, snapshot); err != nil {
		return err
	}

	loc := snapshot.Location
	const upsertLocation = `INSERT INTO owner_locations (owner_id, location, radius_miles, result_count, sync_id, synced_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (owner_id) DO UPDATE SET
            location = EXCLUDED.location,
            radius_miles = EXCLUDED.radius_miles,
            result_count = EXCLUDED.result_count,
            sync_id = EXCLUDED.sync_id,
            synced_at = EXCLUDED.synced_at`
	if _, err = tx.Exec(ctx, upsertLocation, snapshot.OwnerID, loc.Location, loc.RadiusMiles, loc.ResultCount, snapshot.SyncID, loc.SyncedAt); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, snapshot.OwnerID, snapshot.SyncID, venue.EventSynchronized, snapshot.Event()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertVenues(ctx context.Context, tx pgx.Tx, snapshot venue.Snapshot) error {
	if len(snapshot.Records) == 0 {
		return nil
	}

	const stmt = `INSERT INTO venues (venue_id, owner_id, category, position, name, image_url, detail_url, rating, price, sync_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	positions := make(map[venue.Category]int, len(venue.Categories))
	batch := &pgx.Batch{}
	for _, rec := range snapshot.Records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		position := positions[rec.Category]
		positions[rec.Category]++

		batch.Queue(stmt,
			id,
			snapshot.OwnerID,
			string(rec.Category),
			position,
			rec.Name,
			rec.ImageURL,
			rec.DetailURL,
			rec.Rating,
			rec.Price.Ptr(),
			snapshot.SyncID,
			rec.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range snapshot.Records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ownerID, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		ownerID,
		"venue_sync",
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		ownerID,
		body,
		fmt.Sprintf("%s:%s", aggregateID, eventType),
	)
	return err
}

// ListByOwner returns one category of the owner's venues in provider order.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, category venue.Category) ([]venue.Record, error) {
	tx, err := r.beginOwnerRead(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectVenueColumns+` WHERE owner_id=$1 AND category=$2 ORDER BY position`, ownerID, string(category))
	if err != nil {
		return nil, err
	}
	records, err := scanVenues(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadOwner reads the home location and every venue from one snapshot.
func (r *Repository) LoadOwner(ctx context.Context, ownerID string) (*venue.HomeLocation, []venue.Record, error) {
	tx, err := r.beginOwnerRead(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	const locationQuery = `SELECT owner_id, location, radius_miles, result_count, sync_id::text, synced_at
        FROM owner_locations WHERE owner_id=$1`

	var loc venue.HomeLocation
	row := tx.QueryRow(ctx, locationQuery, ownerID)
	if err := row.Scan(&loc.OwnerID, &loc.Location, &loc.RadiusMiles, &loc.ResultCount, &loc.SyncID, &loc.SyncedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, tx.Commit(ctx)
		}
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, selectVenueColumns+` WHERE owner_id=$1
        ORDER BY array_position(ARRAY['restaurants','bars','coffee','activities'], category), position`, ownerID)
	if err != nil {
		return nil, nil, err
	}
	records, err := scanVenues(rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &loc, records, nil
}

// beginOwnerRead opens a read-only repeatable-read transaction scoped to the owner.
func (r *Repository) beginOwnerRead(ctx context.Context, ownerID string) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", ownerID); err != nil {
		tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

func scanVenues(rows pgx.Rows) ([]venue.Record, error) {
	defer rows.Close()

	records := make([]venue.Record, 0)
	for rows.Next() {
		var (
			rec      venue.Record
			category string
			price    *string
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &category, &rec.Name, &rec.ImageURL, &rec.DetailURL, &rec.Rating, &price, &rec.SyncID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Category = venue.Category(category)
		if price != nil {
			rec.Price = venue.PriceOf(*price)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	venue.EventSynchronized: {
		Topic:         "venue_sync_events",
		SchemaSubject: "venue_sync_events-value",
	},
}
