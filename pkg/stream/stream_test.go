package stream_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sr"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec/codectest"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/stream"
)

type TestEvent struct {
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func newClusterWithTopics(t *testing.T, topics ...string) []string {
	t.Helper()
	cluster, err := kfake.NewCluster()
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	addrs := cluster.ListenAddrs()

	client, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	kadmClient := kadm.NewClient(client)
	_, err = kadmClient.CreateTopics(context.Background(), 2, 1, nil, topics...)
	require.NoError(t, err)
	return addrs
}

func newTestCodec(t *testing.T, topics ...string) *codec.Codec {
	t.Helper()
	reg := codectest.New()
	for _, topic := range topics {
		reg.Register(topic+"-CloudEvent", `{"type":"object"}`, "JSON")
		reg.Register(topic+"-TestEvent", `{"type":"object","title":"TestEvent"}`, "JSON")
	}
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)
	client, err := sr.NewClient(sr.URLs(srv.URL))
	require.NoError(t, err)
	return codec.New(client, codec.Options{Logger: zerolog.Nop()})
}

func event(correlationID string) cloudevent.CloudEvent {
	e := cloudevent.New("probe-test", "TestEvent", correlationID)
	e.PayloadVersion = "v1"
	return e
}

func TestProducerFIFO(t *testing.T) {
	topic := "fifo-events"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	p, err := stream.NewProducer(stream.ProducerConfig{
		TestID:           uuid.New(),
		Topic:            topic,
		BootstrapServers: addrs,
		Codec:            c,
		InboxSize:        16,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	ids := []string{"c-001", "c-002", "c-003"}
	replies := make([]chan stream.ProduceResult, len(ids))
	for i, id := range ids {
		replies[i] = make(chan stream.ProduceResult, 1)
		require.NoError(t, p.Enqueue(stream.ProduceRequest{
			Key:     event(id),
			Value:   TestEvent{OrderID: id, Amount: float64(i), Currency: "USD"},
			ReplyTo: replies[i],
		}))
	}
	for i := range replies {
		select {
		case res := <-replies[i]:
			assert.True(t, res.Acked(), "request %d: %v", i, res.Err)
		case <-time.After(10 * time.Second):
			t.Fatalf("no reply for request %d", i)
		}
	}

	// read the topic back with a plain client: appended order must match
	// enqueue order, and event times must be non-decreasing
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(addrs...),
		kgo.ConsumeTopics(topic),
	)
	require.NoError(t, err)
	defer cl.Close()

	var got []cloudevent.CloudEvent
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for len(got) < len(ids) {
		fetches := cl.PollFetches(waitCtx)
		require.NoError(t, fetches.Err())
		iter := fetches.RecordIter()
		for !iter.Done() {
			var key cloudevent.CloudEvent
			require.NoError(t, c.Deserialize(ctx, iter.Next().Key, &key))
			got = append(got, key)
		}
	}
	for i, key := range got {
		assert.Equal(t, ids[i], key.CorrelationID)
		if i > 0 {
			assert.False(t, key.Time.Before(got[i-1].Time), "event times must be non-decreasing")
		}
	}
}

func TestProducerOverflow(t *testing.T) {
	topic := "overflow-events"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)

	p, err := stream.NewProducer(stream.ProducerConfig{
		TestID:           uuid.New(),
		Topic:            topic,
		BootstrapServers: addrs,
		Codec:            c,
		InboxSize:        1,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	// worker loop not started: the inbox fills up and stays full
	require.NoError(t, p.Enqueue(stream.ProduceRequest{Key: event("c-1"), Value: TestEvent{}}))
	err = p.Enqueue(stream.ProduceRequest{Key: event("c-2"), Value: TestEvent{}})
	assert.ErrorIs(t, err, stream.ErrOverflow)

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Stop(stopCtx)
}

func TestProducerStopRepliesEverything(t *testing.T) {
	topic := "stop-events"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	p, err := stream.NewProducer(stream.ProducerConfig{
		TestID:           uuid.New(),
		Topic:            topic,
		BootstrapServers: addrs,
		Codec:            c,
		InboxSize:        16,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))

	var replies []chan stream.ProduceResult
	for i := 0; i < 5; i++ {
		ch := make(chan stream.ProduceResult, 1)
		if err := p.Enqueue(stream.ProduceRequest{Key: event("c-x"), Value: TestEvent{}, ReplyTo: ch}); err == nil {
			replies = append(replies, ch)
		}
	}
	p.Stop(ctx)

	// every accepted request gets exactly one reply: an ack before the
	// stop, or Nack(Cancelled)
	for i, ch := range replies {
		select {
		case res := <-ch:
			if !res.Acked() {
				assert.ErrorIs(t, res.Err, stream.ErrCancelled, "request %d", i)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("request %d never got a reply", i)
		}
	}

	// enqueue after stop fails fast
	err = p.Enqueue(stream.ProduceRequest{Key: event("c-y"), Value: TestEvent{}})
	assert.ErrorIs(t, err, stream.ErrCancelled)
}

func produceFramed(t *testing.T, addrs []string, c *codec.Codec, topic string, key cloudevent.CloudEvent, value any) {
	t.Helper()
	ctx := context.Background()
	kb, err := c.Serialize(ctx, topic, key)
	require.NoError(t, err)
	vb, err := c.Serialize(ctx, topic, value)
	require.NoError(t, err)

	cl, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	defer cl.Close()
	require.NoError(t, cl.ProduceSync(ctx, &kgo.Record{Topic: topic, Key: kb, Value: vb}).FirstErr())
}

func newConsumer(t *testing.T, addrs []string, c *codec.Codec, topic string, fetchWait time.Duration) *stream.Consumer {
	t.Helper()
	consumer, err := stream.NewConsumer(stream.ConsumerConfig{
		TestID:           uuid.New(),
		Topic:            topic,
		BootstrapServers: addrs,
		Codec:            c,
		EventFilters:     []directive.EventFilter{{EventType: "TestEvent", Version: "v1"}},
		FetchWait:        fetchWait,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	t.Cleanup(func() { consumer.Stop(context.Background()) })
	return consumer
}

func TestConsumerFetchByCorrelation(t *testing.T) {
	topic := "consume-events"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	consumer := newConsumer(t, addrs, c, topic, 10*time.Second)
	produceFramed(t, addrs, c, topic, event("c-1"), TestEvent{OrderID: "o-1", Amount: 1.0, Currency: "USD"})

	res := consumer.FetchByCorrelation(ctx, "c-1", "TestEvent")
	require.True(t, res.Available(), "fetch failed: %v", res.Err)
	assert.Equal(t, "c-1", res.Event.CorrelationID)
	assert.Equal(t, "o-1", res.Value["orderId"])
	assert.Equal(t, "USD", res.Value["currency"])
}

func TestConsumerFetchRemovesRecord(t *testing.T) {
	topic := "consume-once"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	consumer := newConsumer(t, addrs, c, topic, 5*time.Second)
	produceFramed(t, addrs, c, topic, event("c-1"), TestEvent{OrderID: "o-1"})

	first := consumer.FetchByCorrelation(ctx, "c-1", "")
	require.True(t, first.Available())

	shortCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	second := consumer.FetchByCorrelation(shortCtx, "c-1", "")
	assert.False(t, second.Available())
}

func TestConsumerFIFOPerCorrelation(t *testing.T) {
	topic := "consume-fifo"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	consumer := newConsumer(t, addrs, c, topic, 10*time.Second)
	produceFramed(t, addrs, c, topic, event("c-1"), TestEvent{OrderID: "o-first"})
	produceFramed(t, addrs, c, topic, event("c-1"), TestEvent{OrderID: "o-second"})

	first := consumer.FetchByCorrelation(ctx, "c-1", "")
	require.True(t, first.Available())
	assert.Equal(t, "o-first", first.Value["orderId"])

	second := consumer.FetchByCorrelation(ctx, "c-1", "")
	require.True(t, second.Available())
	assert.Equal(t, "o-second", second.Value["orderId"])
}

func TestConsumerEventFilterDiscards(t *testing.T) {
	topic := "consume-filtered"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)
	ctx := context.Background()

	consumer := newConsumer(t, addrs, c, topic, 300*time.Millisecond)

	rejected := cloudevent.New("probe-test", "OtherEvent", "c-1")
	rejected.PayloadVersion = "v1"
	produceFramed(t, addrs, c, topic, rejected, TestEvent{OrderID: "o-1"})

	res := consumer.FetchByCorrelation(ctx, "c-1", "")
	assert.False(t, res.Available())
	assert.ErrorIs(t, res.Err, stream.ErrTimedOut)
}

func TestConsumerFetchTimesOut(t *testing.T) {
	topic := "consume-empty"
	addrs := newClusterWithTopics(t, topic)
	c := newTestCodec(t, topic)

	consumer := newConsumer(t, addrs, c, topic, 200*time.Millisecond)

	start := time.Now()
	res := consumer.FetchByCorrelation(context.Background(), "missing", "")
	assert.ErrorIs(t, res.Err, stream.ErrTimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSecurityOptsRejectBadBlob(t *testing.T) {
	_, err := stream.NewProducer(stream.ProducerConfig{
		TestID:           uuid.New(),
		Topic:            "t",
		BootstrapServers: []string{"localhost:9092"},
		Security: directive.KafkaSecurityDirective{
			Topic:          "t",
			Role:           directive.RoleProducer,
			Protocol:       directive.ProtocolSASLSSL,
			CredentialBlob: []byte("not-json"),
		},
		Logger: zerolog.Nop(),
	})
	// error surfaces at construction, not at produce time
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential blob")
}
