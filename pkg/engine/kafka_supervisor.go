package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/dsl"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/stream"
)

type SupervisorConfig struct {
	TestID           uuid.UUID
	BootstrapServers []string // engine default, overridable per topic directive
	Codec            *codec.Codec
	Facade           *dsl.Facade
	InboxSize        int
	ProduceTimeout   time.Duration
	FetchWait        time.Duration
	ClientID         string
	Logger           zerolog.Logger
}

// KafkaSupervisor spawns one stream worker per topic directive, pairing it
// with the matching security directive, and registers the workers with the
// DSL facade. Initialize is idempotent: once the workers are up, a second
// call is a no-op.
type KafkaSupervisor struct {
	cfg SupervisorConfig
	log zerolog.Logger

	initialized bool
	producers   []*stream.Producer
	consumers   []*stream.Consumer
}

func NewKafkaSupervisor(cfg SupervisorConfig) *KafkaSupervisor {
	return &KafkaSupervisor{
		cfg: cfg,
		log: cfg.Logger.With().
			Str("component", "kafka-supervisor").
			Str("test", cfg.TestID.String()).
			Logger(),
	}
}

// Initialize spawns and starts every worker the directives call for. On any
// failure the workers already started are stopped before the error returns;
// readiness is all-or-nothing.
func (s *KafkaSupervisor) Initialize(ctx context.Context, bsd *directive.BlockStorageDirective, secs []directive.KafkaSecurityDirective) error {
	if s.initialized {
		return nil
	}

	for _, td := range bsd.TopicDirectives {
		bootstrap, err := s.effectiveBootstrap(td)
		if err != nil {
			s.teardown(ctx)
			return err
		}
		sec, err := directive.SecurityFor(secs, td.Topic, td.Role)
		if err != nil {
			s.teardown(ctx)
			return err
		}
		if err := s.spawn(ctx, td, bootstrap, sec); err != nil {
			s.teardown(ctx)
			return fmt.Errorf("spawn %s worker for topic %q: %w", td.Role, td.Topic, err)
		}
	}

	s.initialized = true
	s.log.Info().
		Int("producers", len(s.producers)).
		Int("consumers", len(s.consumers)).
		Msg("stream workers ready")
	return nil
}

func (s *KafkaSupervisor) effectiveBootstrap(td directive.TopicDirective) ([]string, error) {
	if td.BootstrapServers == nil {
		return s.cfg.BootstrapServers, nil
	}
	servers, err := directive.ParseBootstrapServers(*td.BootstrapServers)
	if err != nil {
		return nil, fmt.Errorf("topic %q: %w", td.Topic, err)
	}
	return servers, nil
}

func (s *KafkaSupervisor) spawn(ctx context.Context, td directive.TopicDirective, bootstrap []string, sec directive.KafkaSecurityDirective) error {
	switch td.Role {
	case directive.RoleProducer:
		p, err := stream.NewProducer(stream.ProducerConfig{
			TestID:           s.cfg.TestID,
			Topic:            td.Topic,
			BootstrapServers: bootstrap,
			Security:         sec,
			Codec:            s.cfg.Codec,
			InboxSize:        s.cfg.InboxSize,
			ProduceTimeout:   s.cfg.ProduceTimeout,
			ClientID:         s.cfg.ClientID,
			Logger:           s.cfg.Logger,
		})
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}
		s.producers = append(s.producers, p)
		if s.cfg.Facade != nil {
			s.cfg.Facade.RegisterProducer(s.cfg.TestID, td.Topic, p)
		}
		return nil
	case directive.RoleConsumer:
		c, err := stream.NewConsumer(stream.ConsumerConfig{
			TestID:           s.cfg.TestID,
			Topic:            td.Topic,
			BootstrapServers: bootstrap,
			Security:         sec,
			Codec:            s.cfg.Codec,
			EventFilters:     td.EventFilters,
			FetchWait:        s.cfg.FetchWait,
			ClientID:         s.cfg.ClientID,
			Logger:           s.cfg.Logger,
		})
		if err != nil {
			return err
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
		s.consumers = append(s.consumers, c)
		if s.cfg.Facade != nil {
			s.cfg.Facade.RegisterConsumer(s.cfg.TestID, td.Topic, c)
		}
		return nil
	default:
		return fmt.Errorf("unknown role %q for topic %q", td.Role, td.Topic)
	}
}

// WorkerCount reports the number of live stream workers.
func (s *KafkaSupervisor) WorkerCount() int {
	return len(s.producers) + len(s.consumers)
}

// Stop fans out stop to every worker and waits for all of them. Facade
// routes for the test are cleared first so no new asks reach a worker
// mid-teardown.
func (s *KafkaSupervisor) Stop(ctx context.Context) error {
	err := s.teardown(ctx)
	s.initialized = false
	return err
}

func (s *KafkaSupervisor) teardown(ctx context.Context) error {
	if s.cfg.Facade != nil {
		s.cfg.Facade.UnregisterTest(s.cfg.TestID)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.producers {
		p := p
		g.Go(func() error {
			p.Stop(ctx)
			return nil
		})
	}
	for _, c := range s.consumers {
		c := c
		g.Go(func() error {
			c.Stop(ctx)
			return nil
		})
	}
	err := g.Wait()
	s.producers = nil
	s.consumers = nil
	return err
}
