package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

type ConsumerConfig struct {
	TestID           uuid.UUID
	Topic            string
	BootstrapServers []string
	Security         directive.KafkaSecurityDirective
	Codec            *codec.Codec
	EventFilters     []directive.EventFilter
	FetchWait        time.Duration
	ClientID         string
	Logger           zerolog.Logger
}

type storedEvent struct {
	event   cloudevent.CloudEvent
	value   map[string]any
	headers []kgo.RecordHeader
}

// Consumer is the stream worker for one (test, topic) in role consumer. It
// owns a long-lived subscription, keeps records that pass the event-filter
// allow-list, and serves fetch-by-correlation with a bounded wait. Records
// are preserved per correlation id in partition arrival order.
type Consumer struct {
	topic     string
	filters   []directive.EventFilter
	client    *kgo.Client
	codec     *codec.Codec
	fetchWait time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	buf     map[string][]storedEvent
	arrived chan struct{} // closed and replaced on every accepted record

	exit     chan struct{}
	doneExit chan struct{}
	stopOnce sync.Once
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	logger := cfg.Logger.With().
		Str("component", "consumer").
		Str("test", cfg.TestID.String()).
		Str("topic", cfg.Topic).
		Logger()

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup("probe-" + cfg.TestID.String() + "-" + cfg.Topic),
		kgo.WithLogger(kzerolog.New(&logger)),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	secOpts, err := securityOpts(cfg.Security)
	if err != nil {
		return nil, err
	}
	opts = append(opts, secOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	fetchWait := cfg.FetchWait
	if fetchWait <= 0 {
		fetchWait = 3 * time.Second
	}

	return &Consumer{
		topic:     cfg.Topic,
		filters:   cfg.EventFilters,
		client:    client,
		codec:     cfg.Codec,
		fetchWait: fetchWait,
		log:       logger,
		buf:       map[string][]storedEvent{},
		arrived:   make(chan struct{}),
		exit:      make(chan struct{}),
		doneExit:  make(chan struct{}),
	}, nil
}

func (c *Consumer) Topic() string { return c.topic }

// Start verifies broker reachability and launches the polling loop.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		c.client.Close()
		return err
	}
	go c.loop()
	return nil
}

func (c *Consumer) loop() {
	defer close(c.doneExit)
	for {
		select {
		case <-c.exit:
			return
		default:
			pollCtx, done := context.WithTimeout(context.Background(), 100*time.Millisecond)
			rs := c.client.PollFetches(pollCtx)
			done()
			for _, err := range rs.Errors() {
				if errors.Is(err.Err, context.DeadlineExceeded) || errors.Is(err.Err, context.Canceled) {
					continue
				}
				c.log.Warn().Err(err.Err).Str("topic", err.Topic).Msg("fetch error")
			}
			iter := rs.RecordIter()
			for !iter.Done() {
				c.store(iter.Next())
			}
		}
	}
}

// store decodes, filters, and buffers one record. Decode failures and
// filtered-out records are discarded; the offset advances regardless.
func (c *Consumer) store(rec *kgo.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var event cloudevent.CloudEvent
	if err := c.codec.Deserialize(ctx, rec.Key, &event); err != nil {
		c.log.Error().Err(err).Msg("discarding record with undecodable key")
		return
	}
	var value map[string]any
	if err := c.codec.Deserialize(ctx, rec.Value, &value); err != nil {
		c.log.Error().Err(err).Str("correlationid", event.CorrelationID).Msg("discarding record with undecodable value")
		return
	}
	if !c.matchesFilter(event) {
		c.log.Debug().
			Str("type", event.Type).
			Str("payloadversion", event.PayloadVersion).
			Msg("record filtered out")
		return
	}

	c.mu.Lock()
	c.buf[event.CorrelationID] = append(c.buf[event.CorrelationID], storedEvent{
		event:   event,
		value:   value,
		headers: rec.Headers,
	})
	close(c.arrived)
	c.arrived = make(chan struct{})
	c.mu.Unlock()
}

func (c *Consumer) matchesFilter(event cloudevent.CloudEvent) bool {
	for _, f := range c.filters {
		if f.EventType == event.Type && f.Version == event.PayloadVersion {
			return true
		}
	}
	return false
}

// FetchByCorrelation returns the first stored record for the correlation id
// (and expected type, if non-empty), removing it. Waits up to the configured
// fetch wait for a record that has not arrived yet.
func (c *Consumer) FetchByCorrelation(ctx context.Context, correlationID, expectedType string) ConsumedResult {
	deadline := time.NewTimer(c.fetchWait)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		if res, ok := c.take(correlationID, expectedType); ok {
			c.mu.Unlock()
			return res
		}
		arrived := c.arrived
		c.mu.Unlock()

		select {
		case <-arrived:
		case <-deadline.C:
			return ConsumedResult{Err: ErrTimedOut}
		case <-ctx.Done():
			return ConsumedResult{Err: ErrCancelled}
		case <-c.exit:
			return ConsumedResult{Err: ErrCancelled}
		}
	}
}

// take must be called with c.mu held.
func (c *Consumer) take(correlationID, expectedType string) (ConsumedResult, bool) {
	list := c.buf[correlationID]
	for i, stored := range list {
		if expectedType != "" && stored.event.Type != expectedType {
			continue
		}
		c.buf[correlationID] = append(list[:i:i], list[i+1:]...)
		if len(c.buf[correlationID]) == 0 {
			delete(c.buf, correlationID)
		}
		return ConsumedResult{Event: stored.event, Value: stored.value, Headers: stored.headers}, true
	}
	return ConsumedResult{}, false
}

// Stop commits pending offsets and closes the subscription. In-flight
// fetches are answered NotAvailable(Cancelled).
func (c *Consumer) Stop(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.exit) })
	select {
	case <-c.doneExit:
	case <-ctx.Done():
	}
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(commitCtx); err != nil {
		c.log.Warn().Err(err).Msg("final offset commit failed")
	}
	c.client.Close()
}
