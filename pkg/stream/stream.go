// Package stream implements the per-(test, topic) Kafka workers: a producer
// worker with FIFO ask/reply semantics and a consumer worker buffering
// records by correlation id. One kgo client per worker, never shared across
// tests.
package stream

import (
	"errors"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
)

var (
	// ErrOverflow reports a full worker inbox; enqueues fail fast rather
	// than buffering unboundedly.
	ErrOverflow = errors.New("stream: inbox overflow")

	// ErrCancelled reports a request cut short by worker stop or caller
	// cancellation.
	ErrCancelled = errors.New("stream: cancelled")

	// ErrTimedOut reports an ask or fetch that exceeded its deadline.
	ErrTimedOut = errors.New("stream: timed out")

	// ErrNoSuchStream reports a (test, topic) pair with no live worker.
	ErrNoSuchStream = errors.New("stream: no such stream")
)

// ProduceResult is the reply to one produce request: Ack (nil Err) or
// Nack (non-nil Err).
type ProduceResult struct {
	Err error
}

func (r ProduceResult) Acked() bool { return r.Err == nil }

func Ack() ProduceResult           { return ProduceResult{} }
func Nack(err error) ProduceResult { return ProduceResult{Err: err} }

// ProduceRequest asks a producer worker to serialize and send one record.
// ReplyTo receives exactly one ProduceResult; it must be buffered.
type ProduceRequest struct {
	Key     cloudevent.CloudEvent
	Value   any
	Headers []kgo.RecordHeader
	ReplyTo chan<- ProduceResult
}

// ConsumedResult is the reply to a fetch-by-correlation: a stored record
// (nil Err) or NotAvailable with the reason.
type ConsumedResult struct {
	Event   cloudevent.CloudEvent
	Value   map[string]any
	Headers []kgo.RecordHeader
	Err     error
}

func (r ConsumedResult) Available() bool { return r.Err == nil }
