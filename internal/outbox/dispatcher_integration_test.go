//go:build integration

package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/venues/internal/testsupport"
	"example.com/venues/internal/venue"
)

func TestDispatcherPublishesMessagesWithHeaders(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t).Admin

	ownerID := uuid.NewString()
	syncID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, ownerID, syncID, venue.EventSynchronized))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := newTestDispatcher(pool, producer, registry)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "venue_sync_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	msg := producer.writes[0].messages[0]
	require.Equal(t, ownerID, string(msg.Key))
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(msg.Value[1:5]))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, venue.EventSynchronized, headers["event_type"])
	require.Equal(t, ownerID, headers["owner_id"])
	require.Equal(t, "venue_sync_events-value", headers["schema_subject"])

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t).Admin

	ownerID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, ownerID, uuid.NewString(), venue.EventSynchronized))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := newTestDispatcher(pool, producer, &stubRegistry{id: 7})

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("venue_sync_events"))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("venue_sync_events")), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE owner_id = $1`, ownerID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t).Admin

	ownerID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, ownerID, uuid.NewString(), venue.EventSynchronized))
	require.NotZero(t, seedOutbox(t, ctx, pool, ownerID, uuid.NewString(), venue.EventSynchronized))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := newTestDispatcher(pool, producer, registry)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema registry should be invoked once due to cache")
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t).Admin

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), uuid.NewString(), "venues.unknown")
	require.NotZero(t, eventID)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := newTestDispatcher(pool, producer, registry)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes, "unknown schema should skip kafka writes")
	require.Empty(t, registry.calls)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "no schema metadata for event_type=venues.unknown")
}

func TestDLQManagerRequeuesAndQuarantines(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t).Admin

	ownerID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, ownerID, uuid.NewString(), venue.EventSynchronized))
	require.NoError(t, newTestDispatcher(pool, &stubProducer{err: errors.New("broker down")}, &stubRegistry{id: 3}).processBatch(ctx))

	_, err := pool.Exec(ctx, `INSERT INTO outbox_dlq (owner_id, event_id, event_type, topic, payload, reason, schema_subject, retry_count)
        VALUES ($1, 0, $2, 'venue_sync_events', '{}', 'exhausted', 'venue_sync_events-value', 9)`, ownerID, venue.EventSynchronized)
	require.NoError(t, err)

	beforeQuarantined := testutil.ToFloat64(dlqQuarantinedCounter.WithLabelValues("venue_sync_events", venue.EventSynchronized))

	manager := NewDLQManager(pool, 5, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	var pending, quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&pending))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Zero(t, pending)
	require.Equal(t, 1, quarantined)
	require.InDelta(t, beforeQuarantined+1, testutil.ToFloat64(dlqQuarantinedCounter.WithLabelValues("venue_sync_events", venue.EventSynchronized)), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))

	var requeued int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE owner_id = $1 AND published_at IS NULL`, ownerID).Scan(&requeued))
	require.Equal(t, 1, requeued)
}

func TestDLQReplayReachesKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool := testsupport.StartPostgres(ctx, t).Admin
	ownerID := uuid.NewString()
	syncID := uuid.NewString()
	seedOutbox(t, ctx, pool, ownerID, syncID, venue.EventSynchronized)

	registry := &stubRegistry{id: 100}
	require.NoError(t, newTestDispatcher(pool, &stubProducer{err: errors.New("upstream kafka unavailable")}, registry).processBatch(ctx))

	manager := NewDLQManager(pool, 5, time.Second, nil)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	kc, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0", kafkacontainer.WithClusterID("venues-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: "venue_sync_events", NumPartitions: 1, ReplicationFactor: 1}))
	require.NoError(t, conn.Close())

	producer := NewKafkaProducer(brokers)
	defer producer.Close()
	require.NoError(t, newTestDispatcher(pool, producer, registry).processBatch(ctx))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     "venue_sync_events",
		Partition: 0,
		MaxWait:   500 * time.Millisecond,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, ownerID, string(msg.Key))
	require.Equal(t, uint32(100), binary.BigEndian.Uint32(msg.Value[1:5]))

	var event venue.SynchronizedEvent
	require.NoError(t, json.Unmarshal(msg.Value[5:], &event))
	require.Equal(t, syncID, event.SyncID)
	require.Equal(t, "Austin", event.Location)
}

func newTestDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar) *Dispatcher {
	return NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5,
		WithDispatcherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls []string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	return s.id, nil
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ownerID, syncID, eventType string) int64 {
	t.Helper()

	payload, err := json.Marshal(venue.SynchronizedEvent{
		SyncID:      syncID,
		OwnerID:     ownerID,
		Location:    "Austin",
		RadiusMiles: 2,
		ResultCount: 5,
		Counts:      map[string]int{"restaurants": 5, "bars": 3, "coffee": 2, "activities": 0},
		SyncedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	var eventID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,'venue_sync',$2,$3,'venue_sync_events','venue_sync_events-value',$1,$4)
         RETURNING event_id`,
		ownerID, syncID, eventType, payload,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}
