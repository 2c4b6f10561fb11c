package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	res := Default().Validate()
	assert.True(t, res.Valid(), "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateCrossFieldRules(t *testing.T) {
	for _, tc := range []struct {
		note    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			note:    "maxExecutionTime not above actorSystemTimeout",
			mutate:  func(c *Config) { c.MaxExecutionTime = c.ActorSystemTimeout },
			wantErr: "maxExecutionTime",
		},
		{
			note:    "cleanupDelay at maxExecutionTime",
			mutate:  func(c *Config) { c.CleanupDelay = c.MaxExecutionTime },
			wantErr: "cleanupDelay",
		},
		{
			note:    "stash buffer zero",
			mutate:  func(c *Config) { c.StashBufferSize = 0 },
			wantErr: "stashBufferSize",
		},
		{
			note:    "stash buffer too large",
			mutate:  func(c *Config) { c.StashBufferSize = 10001 },
			wantErr: "stashBufferSize",
		},
		{
			note:    "pool size zero",
			mutate:  func(c *Config) { c.PoolSize = 0 },
			wantErr: "poolSize",
		},
		{
			note:    "ask timeout below floor",
			mutate:  func(c *Config) { c.DSL.AskTimeout = Duration(50 * time.Millisecond) },
			wantErr: "askTimeout",
		},
		{
			note:    "registry url scheme",
			mutate:  func(c *Config) { c.Kafka.SchemaRegistryURL = "localhost:8081" },
			wantErr: "schemaRegistryUrl",
		},
		{
			note:    "state timer above ceiling",
			mutate:  func(c *Config) { c.SetupStateTimeout = c.MaxExecutionTime },
			wantErr: "setupStateTimeout",
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			res := c.Validate()
			require.False(t, res.Valid())
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, tc.wantErr) {
					found = true
				}
			}
			assert.True(t, found, "no error mentioning %q in %v", tc.wantErr, res.Errors)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	c := Default()
	c.PoolSize = 51
	c.DSL.AskTimeout = Duration(31 * time.Second)
	res := c.Validate()
	assert.True(t, res.Valid())
	assert.Len(t, res.Warnings, 2)
}

func TestFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
maxExecutionTime: 5m
setupStateTimeout: 45s
dsl:
  askTimeout: 2s
kafka:
  bootstrapServers: kafka-default:9092
  schemaRegistryUrl: http://sr:8081
  schemaAutoRegister: true
`), 0o600))

	c, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, c.MaxExecutionTime.Std())
	assert.Equal(t, 45*time.Second, c.SetupStateTimeout.Std())
	assert.Equal(t, 2*time.Second, c.DSL.AskTimeout.Std())
	assert.Equal(t, "kafka-default:9092", c.Kafka.BootstrapServers)
	assert.True(t, c.Kafka.SchemaAutoRegister)
	// untouched fields keep their defaults
	assert.Equal(t, 100, c.StashBufferSize)
	require.True(t, c.Validate().Valid())
}
