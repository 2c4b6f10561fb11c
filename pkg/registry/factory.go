package registry

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/dsl"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/engine"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/secrets"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage"
)

// Collaborators are the process-wide pieces every engine shares: the schema
// codec with its cache, the DSL facade routing table and the injected
// storage/vault/scenario implementations.
type Collaborators struct {
	Config  *config.Config
	Codec   *codec.Codec
	Facade  *dsl.Facade
	Storage storage.Functions
	Vault   secrets.Functions
	Runner  scenario.Runner

	// ClientID names this process on broker and registry connections.
	ClientID string
}

// NewEngineFactory wires the shared collaborators into per-test engines.
// Each engine gets its own children and its own stream worker supervisor;
// Kafka clients are never shared across tests.
func NewEngineFactory(col Collaborators, logger zerolog.Logger) EngineFactory {
	return func(testID uuid.UUID, bucket, testType string, notify func(engine.Snapshot)) (*engine.Engine, error) {
		bootstrap, err := directive.ParseBootstrapServers(col.Config.Kafka.BootstrapServers)
		if err != nil {
			return nil, err
		}

		sup := engine.NewKafkaSupervisor(engine.SupervisorConfig{
			TestID:           testID,
			BootstrapServers: bootstrap,
			Codec:            col.Codec,
			Facade:           col.Facade,
			InboxSize:        col.Config.WorkerInboxSize,
			ProduceTimeout:   col.Config.Services.Timeout.Std(),
			FetchWait:        col.Config.FetchWait.Std(),
			ClientID:         col.ClientID,
			Logger:           logger,
		})

		return engine.New(engine.EngineConfig{
			TestID:     testID,
			Bucket:     bucket,
			TestType:   testType,
			Config:     col.Config,
			Storage:    storage.NewChild(col.Storage, logger),
			Secrets:    secrets.NewChild(col.Vault, logger),
			Scenario:   scenario.NewChild(col.Runner, logger),
			Supervisor: sup,
			Streams:    col.Facade,
			Notify:     notify,
			Logger:     logger,
		}), nil
	}
}
