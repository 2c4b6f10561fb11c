// Package dsl is the in-process facade scenario code calls to drive
// traffic. It routes each call to the stream worker registered for its
// (test, topic) pair and turns the worker's reply channel into a
// synchronous ask with a bounded timeout.
package dsl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/stream"
)

const DefaultAskTimeout = 5 * time.Second

// ProducerHandle is the slice of a producer worker the facade routes to.
type ProducerHandle interface {
	Enqueue(req stream.ProduceRequest) error
}

// ConsumerHandle is the slice of a consumer worker the facade routes to.
type ConsumerHandle interface {
	FetchByCorrelation(ctx context.Context, correlationID, expectedType string) stream.ConsumedResult
}

type routeKey struct {
	testID uuid.UUID
	topic  string
}

// Facade holds the (test, topic) routing table. Workers are registered as
// the supervisor spawns them and unregistered as they stop; the facade
// never owns a worker's lifecycle.
type Facade struct {
	mu         sync.RWMutex
	producers  map[routeKey]ProducerHandle
	consumers  map[routeKey]ConsumerHandle
	askTimeout time.Duration
	log        zerolog.Logger
}

func New(askTimeout time.Duration, logger zerolog.Logger) *Facade {
	if askTimeout <= 0 {
		askTimeout = DefaultAskTimeout
	}
	return &Facade{
		producers:  map[routeKey]ProducerHandle{},
		consumers:  map[routeKey]ConsumerHandle{},
		askTimeout: askTimeout,
		log:        logger.With().Str("component", "dsl").Logger(),
	}
}

func (f *Facade) RegisterProducer(testID uuid.UUID, topic string, h ProducerHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producers[routeKey{testID, topic}] = h
}

func (f *Facade) RegisterConsumer(testID uuid.UUID, topic string, h ConsumerHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers[routeKey{testID, topic}] = h
}

// UnregisterTest drops every route for a test. Called once when the
// owning engine tears its workers down.
func (f *Facade) UnregisterTest(testID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.producers {
		if k.testID == testID {
			delete(f.producers, k)
		}
	}
	for k := range f.consumers {
		if k.testID == testID {
			delete(f.consumers, k)
		}
	}
}

func (f *Facade) producer(testID uuid.UUID, topic string) (ProducerHandle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.producers[routeKey{testID, topic}]
	return h, ok
}

func (f *Facade) consumer(testID uuid.UUID, topic string) (ConsumerHandle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.consumers[routeKey{testID, topic}]
	return h, ok
}

// Produce sends one record through the producer worker for (testID, topic)
// and blocks until the worker replies or the ask timeout expires.
func (f *Facade) Produce(ctx context.Context, testID uuid.UUID, topic string, key cloudevent.CloudEvent, value any) stream.ProduceResult {
	h, ok := f.producer(testID, topic)
	if !ok {
		return stream.Nack(stream.ErrNoSuchStream)
	}

	replyTo := make(chan stream.ProduceResult, 1)
	if err := h.Enqueue(stream.ProduceRequest{Key: key, Value: value, ReplyTo: replyTo}); err != nil {
		return stream.Nack(err)
	}

	timer := time.NewTimer(f.askTimeout)
	defer timer.Stop()
	select {
	case res := <-replyTo:
		return res
	case <-timer.C:
		f.log.Warn().Str("test", testID.String()).Str("topic", topic).Msg("produce ask timed out")
		return stream.Nack(stream.ErrTimedOut)
	case <-ctx.Done():
		return stream.Nack(stream.ErrCancelled)
	}
}

// ProduceBatch is N serial produces; it stops early only on context
// cancellation, so the result slice is always in request order.
func (f *Facade) ProduceBatch(ctx context.Context, testID uuid.UUID, topic string, keys []cloudevent.CloudEvent, values []any) []stream.ProduceResult {
	results := make([]stream.ProduceResult, 0, len(keys))
	for i := range keys {
		if err := ctx.Err(); err != nil {
			results = append(results, stream.Nack(stream.ErrCancelled))
			continue
		}
		var value any
		if i < len(values) {
			value = values[i]
		}
		results = append(results, f.Produce(ctx, testID, topic, keys[i], value))
	}
	return results
}

// FetchByCorrelation asks the consumer worker for (testID, topic) for the
// first stored record matching the correlation id and expected type.
func (f *Facade) FetchByCorrelation(ctx context.Context, testID uuid.UUID, topic, correlationID, expectedType string) stream.ConsumedResult {
	h, ok := f.consumer(testID, topic)
	if !ok {
		return stream.ConsumedResult{Err: stream.ErrNoSuchStream}
	}
	askCtx, cancel := context.WithTimeout(ctx, f.askTimeout)
	defer cancel()
	return h.FetchByCorrelation(askCtx, correlationID, expectedType)
}
