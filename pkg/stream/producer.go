package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

type ProducerConfig struct {
	TestID           uuid.UUID
	Topic            string
	BootstrapServers []string
	Security         directive.KafkaSecurityDirective
	Codec            *codec.Codec
	InboxSize        int
	ProduceTimeout   time.Duration
	ClientID         string
	Logger           zerolog.Logger
}

// Producer is the stream worker for one (test, topic) in role producer. It
// processes requests strictly one at a time: request N+1 is not started
// before the reply to request N went out. That gives per-stream ordering
// without a global lock.
type Producer struct {
	topic          string
	client         *kgo.Client
	codec          *codec.Codec
	produceTimeout time.Duration
	log            zerolog.Logger

	inbox    chan ProduceRequest
	exit     chan struct{}
	doneExit chan struct{}
	stopOnce sync.Once
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	logger := cfg.Logger.With().
		Str("component", "producer").
		Str("test", cfg.TestID.String()).
		Str("topic", cfg.Topic).
		Logger()

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.DefaultProduceTopic(cfg.Topic),
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

	inboxSize := cfg.InboxSize
	if inboxSize < 1 {
		inboxSize = 1
	}
	produceTimeout := cfg.ProduceTimeout
	if produceTimeout <= 0 {
		produceTimeout = 30 * time.Second
	}

	return &Producer{
		topic:          cfg.Topic,
		client:         client,
		codec:          cfg.Codec,
		produceTimeout: produceTimeout,
		log:            logger,
		inbox:          make(chan ProduceRequest, inboxSize),
		exit:           make(chan struct{}),
		doneExit:       make(chan struct{}),
	}, nil
}

func (p *Producer) Topic() string { return p.topic }

// Start verifies broker reachability and launches the worker loop.
func (p *Producer) Start(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		p.client.Close()
		return err
	}
	go p.loop()
	return nil
}

// Enqueue hands a request to the worker. Fails fast with ErrOverflow when
// the inbox is full and ErrCancelled when the worker is stopping.
func (p *Producer) Enqueue(req ProduceRequest) error {
	select {
	case <-p.exit:
		return ErrCancelled
	default:
	}
	select {
	case p.inbox <- req:
		return nil
	default:
		return ErrOverflow
	}
}

func (p *Producer) loop() {
	defer close(p.doneExit)
	for {
		select {
		case <-p.exit:
			p.drain()
			return
		case req := <-p.inbox:
			reply(req.ReplyTo, p.handle(req))
		}
	}
}

// drain answers everything still queued with Nack(Cancelled); no reply is
// ever dropped.
func (p *Producer) drain() {
	for {
		select {
		case req := <-p.inbox:
			reply(req.ReplyTo, Nack(ErrCancelled))
		default:
			return
		}
	}
}

func (p *Producer) handle(req ProduceRequest) ProduceResult {
	ctx, cancel := context.WithTimeout(context.Background(), p.produceTimeout)
	defer cancel()

	keyBytes, err := p.codec.Serialize(ctx, p.topic, req.Key)
	if err != nil {
		return Nack(err)
	}
	valueBytes, err := p.codec.Serialize(ctx, p.topic, req.Value)
	if err != nil {
		return Nack(err)
	}

	rec := &kgo.Record{
		Topic:   p.topic,
		Key:     keyBytes,
		Value:   valueBytes,
		Headers: req.Headers,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.log.Error().Err(err).Str("correlationid", req.Key.CorrelationID).Msg("produce failed")
		return Nack(err)
	}
	return Ack()
}

// Stop drains the worker and closes the Kafka client. Queued requests are
// nacked, not dropped.
func (p *Producer) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.exit) })
	select {
	case <-p.doneExit:
	case <-ctx.Done():
	}
	p.client.Close()
}

func reply(ch chan<- ProduceResult, res ProduceResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}
