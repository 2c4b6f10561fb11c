// Package config holds the typed configuration of the probe runtime: engine
// timers, worker sizing, Kafka endpoints, and the DSL ask timeout.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

// Duration unmarshals from a JSON/YAML string like "30s" or from integer
// nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

type OAuthConfig struct {
	TokenEndpoint string `json:"tokenEndpoint,omitempty"`
	ClientScope   string `json:"clientScope,omitempty"`
}

type KafkaConfig struct {
	BootstrapServers   string      `json:"bootstrapServers"`
	SchemaRegistryURL  string      `json:"schemaRegistryUrl"`
	SchemaAutoRegister bool        `json:"schemaAutoRegister"`
	OAuth              OAuthConfig `json:"oauth,omitempty"`
}

type CucumberConfig struct {
	GluePackages []string `json:"gluePackages,omitempty"`
}

type ServicesConfig struct {
	Timeout Duration `json:"timeout"`
}

type DSLConfig struct {
	AskTimeout Duration `json:"askTimeout"`
}

type Config struct {
	ActorSystemTimeout    Duration `json:"actorSystemTimeout"`
	ShutdownTimeout       Duration `json:"shutdownTimeout"`
	InitializationTimeout Duration `json:"initializationTimeout"`
	PoolSize              int      `json:"poolSize"`
	MaxExecutionTime      Duration `json:"maxExecutionTime"`
	MaxRestarts           int      `json:"maxRestarts"`
	RestartTimeRange      Duration `json:"restartTimeRange"`
	MaxRetries            int      `json:"maxRetries"`
	CleanupDelay          Duration `json:"cleanupDelay"`
	StashBufferSize       int      `json:"stashBufferSize"`
	SetupStateTimeout     Duration `json:"setupStateTimeout"`
	LoadingStateTimeout   Duration `json:"loadingStateTimeout"`
	CompletedStateTimeout Duration `json:"completedStateTimeout"`
	ExceptionStateTimeout Duration `json:"exceptionStateTimeout"`

	Cucumber CucumberConfig `json:"cucumber,omitempty"`
	Services ServicesConfig `json:"services,omitempty"`
	DSL      DSLConfig      `json:"dsl,omitempty"`
	Kafka    KafkaConfig    `json:"kafka"`

	// WorkerInboxSize bounds the request queue of every stream worker;
	// enqueues beyond it fail fast instead of buffering unboundedly.
	WorkerInboxSize int `json:"workerInboxSize"`

	// FetchWait bounds how long a fetch-by-correlation waits for a record
	// that has not arrived yet.
	FetchWait Duration `json:"fetchWait"`
}

func Default() *Config {
	return &Config{
		ActorSystemTimeout:    Duration(30 * time.Second),
		ShutdownTimeout:       Duration(30 * time.Second),
		InitializationTimeout: Duration(60 * time.Second),
		PoolSize:              4,
		MaxExecutionTime:      Duration(10 * time.Minute),
		MaxRestarts:           3,
		RestartTimeRange:      Duration(1 * time.Minute),
		MaxRetries:            5,
		CleanupDelay:          Duration(30 * time.Second),
		StashBufferSize:       100,
		SetupStateTimeout:     Duration(2 * time.Minute),
		LoadingStateTimeout:   Duration(2 * time.Minute),
		CompletedStateTimeout: Duration(5 * time.Minute),
		ExceptionStateTimeout: Duration(1 * time.Minute),
		Services:              ServicesConfig{Timeout: Duration(30 * time.Second)},
		DSL:                   DSLConfig{AskTimeout: Duration(10 * time.Second)},
		Kafka: KafkaConfig{
			BootstrapServers:  "localhost:9092",
			SchemaRegistryURL: "http://localhost:8081",
		},
		WorkerInboxSize: 64,
		FetchWait:       Duration(3 * time.Second),
	}
}

// FromFile reads a YAML or JSON config file over the defaults.
func FromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}
