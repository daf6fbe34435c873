// Package outbox persists and delivers domain events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/volunteer/internal/events"
)

// defaultClaimLease bounds how long a claimed but unpublished row stays
// invisible to other dispatchers.
const defaultClaimLease = time.Minute

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher drains the outbox table and delivers registration events to
// Kafka, framing each payload with its Schema Registry id. Topics are
// delivered independently: a failing topic sends only its own rows to the
// DLQ.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	pollInterval time.Duration
	batchSize    int
	claimLease   time.Duration
	schemaIDs    sync.Map
	logger       *log.Logger
	done         chan struct{}
}

// DispatcherOption configures optional behaviour for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the logger used to report delivery failures.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClaimLease overrides how long claimed rows are reserved.
func WithClaimLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.claimLease = lease
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		claimLease:   defaultClaimLease,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the polling loop until ctx is cancelled. Call it in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatcher error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	failures := d.deliver(ctx, messages)

	var delivered, failed []Message
	for _, msg := range messages {
		if _, bad := failures[msg.EventID]; bad {
			failed = append(failed, msg)
		} else {
			delivered = append(delivered, msg)
		}
	}

	if len(failed) > 0 {
		failedCounter.Add(float64(len(failed)))
		for _, msg := range failed {
			reason := fmt.Sprintf("%v (topic=%s)", failures[msg.EventID], msg.Topic)
			if err := d.dlq.Write(ctx, msg, reason); err != nil {
				return fmt.Errorf("move event %d to dlq: %w", msg.EventID, err)
			}
			dlqCounter.WithLabelValues(msg.Topic).Inc()
		}
		d.logger.Printf("moved %d of %d events to the dlq", len(failed), len(messages))
	}
	deliveredCounter.Add(float64(len(delivered)))

	return d.markPublished(ctx, messages)
}

// claim reserves the next batch of unpublished rows. Rows claimed by a
// dispatcher that died before publishing become visible again once the
// lease expires.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	const selectQuery = `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
          AND (claimed_at IS NULL OR claimed_at < NOW() - $2::int * INTERVAL '1 second')
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	var messages []Message
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selectQuery, d.batchSize, int(d.claimLease.Seconds()))
		if err != nil {
			return err
		}
		messages, err = pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
		if err != nil || len(messages) == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return messages, nil
}

// deliver publishes messages grouped by topic and returns the delivery
// error of every event that did not make it.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) map[int64]error {
	failures := make(map[int64]error)
	byTopic := make(map[string][]Message)
	var topics []string

	for _, msg := range messages {
		if _, ok := byTopic[msg.Topic]; !ok {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], msg)
	}

	for _, topic := range topics {
		var (
			records []kafka.Message
			sent    []Message
		)
		for _, msg := range byTopic[topic] {
			record, err := d.record(ctx, msg)
			if err != nil {
				failures[msg.EventID] = err
				continue
			}
			records = append(records, record)
			sent = append(sent, msg)
		}
		if len(records) == 0 {
			continue
		}
		if err := d.producer.WriteMessages(ctx, topic, records...); err != nil {
			for _, msg := range sent {
				failures[msg.EventID] = err
			}
		}
	}
	return failures
}

func (d *Dispatcher) record(ctx context.Context, msg Message) (kafka.Message, error) {
	schemaID, err := d.schemaID(ctx, msg)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}, nil
}

// schemaID resolves the registry id for the message's subject, caching it
// for the life of the dispatcher.
func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	schema, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	key := msg.SchemaSubject + "::" + msg.EventType
	if id, found := d.schemaIDs.Load(key); found {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages))
	return err
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	return ids
}

// Message is an outbox row. Field order matches the claim query.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// encodeWireFormat applies Confluent framing: magic byte 0 followed by the
// big-endian schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

var schemaCatalog = map[string]string{
	events.TypeRegistrationCreated:       registrationCreatedSchema,
	events.TypeRegistrationStatusChanged: registrationStatusChangedSchema,
	events.TypeRegistrationDeleted:       registrationDeletedSchema,
}
