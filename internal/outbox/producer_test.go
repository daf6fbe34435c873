package outbox

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestProducerReusesWriterPerTopic(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, WithCompression(kafka.Lz4))

	first := p.writerForTopic("registration_events")
	require.Same(t, first, p.writerForTopic("registration_events"))
	require.NotSame(t, first, p.writerForTopic("registration_status_changed"))
	require.IsType(t, &kafka.Hash{}, first.Balancer)
	require.Equal(t, kafka.Lz4, first.Compression)

	require.NoError(t, p.Close())
	require.Empty(t, p.writers)
}
