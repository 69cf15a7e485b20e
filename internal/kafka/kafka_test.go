package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/reservation"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
}

func (f *fakeProducer) WriteMessage(ctx context.Context, msg kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

// fakeConsumer hands out queued messages, then blocks until ctx is done.
type fakeConsumer struct {
	mu        sync.Mutex
	messages  []kafkago.Message
	committed []int64
}

func (f *fakeConsumer) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (f *fakeConsumer) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		f.committed = append(f.committed, msg.Offset)
	}
	return nil
}

func (f *fakeConsumer) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func (f *fakeConsumer) Close() error { return nil }

// scriptedHandler returns results in order, then fallback. done is closed
// once waitFor calls have been made.
type scriptedHandler struct {
	mu       sync.Mutex
	results  []error
	fallback error
	waitFor  int
	calls    int
	lastCtx  context.Context
	done     chan struct{}
}

func (h *scriptedHandler) HandleReservationMessage(ctx context.Context, raw []byte) (*models.StagedReservation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCtx = ctx
	err := h.fallback
	if h.calls < len(h.results) {
		err = h.results[h.calls]
	}
	h.calls++
	if h.calls == h.waitFor {
		close(h.done)
	}
	if err != nil {
		return nil, err
	}
	return &models.StagedReservation{Name: "x.json", Order: models.ReservationRequest{ItemID: "1", Quantity: 1}}, nil
}

func newScriptedHandler(waitFor int, results ...error) *scriptedHandler {
	return &scriptedHandler{results: results, waitFor: waitFor, done: make(chan struct{})}
}

func TestPublisher_PublishReservation(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, zap.NewNop())

	require.NoError(t, p.PublishReservation(context.Background(), []byte(`{"itemId":"1","quantity":2}`)))

	require.Len(t, producer.messages, 1)
	assert.Equal(t, `{"itemId":"1","quantity":2}`, string(producer.messages[0].Value))
	assert.NotEmpty(t, producer.messages[0].Key)
}

func TestPublisher_WriteFailure(t *testing.T) {
	p := NewPublisher(&fakeProducer{err: errors.New("leader not available")}, zap.NewNop())

	err := p.PublishReservation(context.Background(), []byte(`{}`))
	assert.ErrorContains(t, err, "leader not available")
}

func runConsumer(t *testing.T, consumer *fakeConsumer, handler *scriptedHandler) *reservation.Tracker {
	t.Helper()
	tracker := reservation.NewTracker()
	svc := NewConsumerService(consumer, handler, tracker, zap.NewNop())
	svc.backoff = time.Millisecond
	svc.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		_ = svc.Start(ctx)
		close(finished)
	}()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called as expected")
	}
	// Let the loop commit before stopping it.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-finished
	return tracker
}

func TestConsumerService_Outcomes(t *testing.T) {
	malformed := apperr.Errorf(apperr.MalformedMessage, "test", "bad")
	storage := apperr.Errorf(apperr.StorageFailure, "test", "down")

	tests := []struct {
		name      string
		results   []error
		staged    int64
		malformed int64
		committed []int64
	}{
		{"staged first try", []error{nil}, 1, 0, []int64{5}},
		{"malformed is committed without retry", []error{malformed}, 0, 1, []int64{5}},
		{"storage failure retried until staged", []error{storage, storage, nil}, 1, 0, []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := &fakeConsumer{messages: []kafkago.Message{{Value: []byte(`{}`), Offset: 5}}}
			handler := newScriptedHandler(len(tt.results), tt.results...)
			tracker := runConsumer(t, consumer, handler)

			assert.Equal(t, len(tt.results), handler.calls)
			assert.Equal(t, tt.staged, tracker.Count(reservation.OutcomeStaged))
			assert.Equal(t, tt.malformed, tracker.Count(reservation.OutcomeMalformed))
			assert.Equal(t, tt.committed, consumer.commits())
		})
	}
}

func TestConsumerService_UnstagedMessageIsNeverCommitted(t *testing.T) {
	consumer := &fakeConsumer{messages: []kafkago.Message{{Value: []byte(`{}`), Offset: 9}}}
	handler := newScriptedHandler(20)
	handler.fallback = apperr.Errorf(apperr.StorageFailure, "test", "down")

	tracker := runConsumer(t, consumer, handler)

	assert.GreaterOrEqual(t, handler.calls, 20, "staging keeps being retried")
	assert.Empty(t, consumer.commits())
	assert.Zero(t, tracker.Count(reservation.OutcomeStaged))
	assert.Equal(t, int64(1), tracker.Count(reservation.OutcomeFailed))
}

func TestConsumerService_ExtractsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceparent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	consumer := &fakeConsumer{messages: []kafkago.Message{{
		Value:   []byte(`{}`),
		Headers: []kafkago.Header{{Key: "traceparent", Value: []byte(traceparent)}},
	}}}
	handler := newScriptedHandler(1, nil)
	runConsumer(t, consumer, handler)

	sc := trace.SpanContextFromContext(handler.lastCtx)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.True(t, sc.IsRemote())
}
