package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func framed(schemaID uint32, payload string) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return value
}

func catalogMessage(offset int64, value []byte) kafka.Message {
	return kafka.Message{
		Topic:  "catalog_activity_upserted",
		Offset: offset,
		Time:   time.Now().UTC(),
		Value:  value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("catalog.activity_upserted")},
			{Key: "schema_subject", Value: []byte("catalog_activity_upserted-value")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := `{"activity_id":"abc","hours":2}`
	reader := &stubReader{
		messages: []kafka.Message{catalogMessage(10, framed(42, payload))},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "catalog.activity_upserted", handler.last.EventType)
	require.Equal(t, "catalog_activity_upserted-value", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, payload, string(handler.last.Payload))
}

func TestProcessorRetriesHandlerUntilSuccess(t *testing.T) {
	reader := &stubReader{
		messages: []kafka.Message{catalogMessage(20, framed(99, `{"activity_id":"def"}`))},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("store unavailable"), failures: 2}

	processor := NewProcessor(reader, handler,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRetryBackoff(time.Millisecond, 2*time.Millisecond),
	)
	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorStopsWithoutCommitWhenHandlerKeepsFailing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			catalogMessage(30, framed(1, `{"activity_id":"ghi"}`)),
			catalogMessage(31, framed(1, `{"activity_id":"jkl"}`)),
		},
		after: contextCanceled,
	}
	handler := &stubHandler{err: errors.New("boom"), failures: -1}

	processor := NewProcessor(reader, handler,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	)
	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.GreaterOrEqual(t, handler.calls, 1)
	require.Equal(t, int64(30), handler.last.Offset)
	require.Zero(t, reader.commitCalls)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{
		messages: []kafka.Message{
			{Topic: "catalog_activity_upserted", Value: []byte{0, 1}},
			{Topic: "catalog_activity_upserted", Value: []byte{0, 0, 0, 0, 1, '{', '}'}},
			{Topic: "catalog_activity_upserted", Value: []byte{7, 0, 0, 0, 1, '{', '}'}, Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		},
		after: contextCanceled,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

// stubHandler fails the first failures calls with err; a negative count
// fails forever.
type stubHandler struct {
	calls    int
	failures int
	err      error
	last     Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.err == nil || h.failures == 0 {
		return nil
	}
	if h.failures > 0 {
		h.failures--
	}
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
