package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationResult accumulates errors and warnings from Validate. A result
// with errors prevents startup; warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(r.Errors, "; "))
}

// Validate applies per-field range checks and the cross-field rules tying
// the engine timers to maxExecutionTime.
func (c *Config) Validate() ValidationResult {
	var res ValidationResult
	errf := func(format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}
	warnf := func(format string, args ...any) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	if c.MaxExecutionTime <= c.ActorSystemTimeout {
		errf("maxExecutionTime (%s) must be greater than actorSystemTimeout (%s)",
			c.MaxExecutionTime.Std(), c.ActorSystemTimeout.Std())
	}
	if c.CleanupDelay >= c.MaxExecutionTime {
		errf("cleanupDelay (%s) must be less than maxExecutionTime (%s)",
			c.CleanupDelay.Std(), c.MaxExecutionTime.Std())
	}
	if c.StashBufferSize < 1 || c.StashBufferSize > 10000 {
		errf("stashBufferSize must be in [1, 10000], got %d", c.StashBufferSize)
	}
	if c.PoolSize < 1 {
		errf("poolSize must be at least 1, got %d", c.PoolSize)
	} else if c.PoolSize > 50 {
		warnf("poolSize %d is unusually large", c.PoolSize)
	}
	if c.DSL.AskTimeout.Std() < 100*time.Millisecond {
		errf("dsl.askTimeout must be at least 100ms, got %s", c.DSL.AskTimeout.Std())
	} else if c.DSL.AskTimeout.Std() > 30*time.Second {
		warnf("dsl.askTimeout %s is unusually large", c.DSL.AskTimeout.Std())
	}
	if u := c.Kafka.SchemaRegistryURL; !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errf("kafka.schemaRegistryUrl must begin with http:// or https://, got %q", u)
	}

	// every state timer must stay below the execution ceiling
	for _, timer := range []struct {
		name string
		val  Duration
	}{
		{"setupStateTimeout", c.SetupStateTimeout},
		{"loadingStateTimeout", c.LoadingStateTimeout},
		{"completedStateTimeout", c.CompletedStateTimeout},
		{"exceptionStateTimeout", c.ExceptionStateTimeout},
	} {
		if timer.val >= c.MaxExecutionTime {
			errf("%s (%s) must be less than maxExecutionTime (%s)",
				timer.name, timer.val.Std(), c.MaxExecutionTime.Std())
		}
	}

	if c.MaxRestarts < 0 {
		errf("maxRestarts cannot be negative, got %d", c.MaxRestarts)
	}
	if c.MaxRetries < 0 {
		errf("maxRetries cannot be negative, got %d", c.MaxRetries)
	}
	if c.WorkerInboxSize < 1 {
		errf("workerInboxSize must be at least 1, got %d", c.WorkerInboxSize)
	}

	return res
}
