package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestProduceMessageInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	w := &recordingWriter{}
	require.NoError(t, ProduceMessage(ctx, w, []byte("k"), []byte("v")))
	require.Len(t, w.msgs, 1)

	carrier := KafkaHeaderCarrier(w.msgs[0].Headers)
	assert.Contains(t, carrier.Get("traceparent"), "0af7651916cd43dd8448eb211c80319c")

	restored := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), w.msgs[0].Headers))
	assert.Equal(t, traceID, restored.TraceID())
}

func TestHeaderCarrierSetOverwrites(t *testing.T) {
	var c KafkaHeaderCarrier
	c.Set("a", "1")
	c.Set("a", "2")
	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a"}, c.Keys())
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitBrokers("k1:9092, k2:9092,"))
}
