// Package scenario runs the pre-authored scenarios of a test bundle and
// turns the outcome into the report dropped into the evidence directory.
// The Gherkin layer itself lives outside this repository; runners are
// injected through the Runner interface.
package scenario

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReportFile is the scenario report written into the evidence directory.
const ReportFile = "cucumber.json"

// Streams is the slice of the DSL facade scenario code drives traffic
// through. The facade satisfies it; tests substitute fakes.
type Streams interface {
	Produce(ctx context.Context, testID uuid.UUID, topic string, key cloudevent.CloudEvent, value any) stream.ProduceResult
	FetchByCorrelation(ctx context.Context, testID uuid.UUID, topic, correlationID, expectedType string) stream.ConsumedResult
}

// RunConfig carries everything a runner needs for one test.
type RunConfig struct {
	TestID       uuid.UUID
	Directive    *directive.BlockStorageDirective
	GluePackages []string
	EvidenceDir  string
	Streams      Streams
}

// Runner executes the scenarios of one bundle sequentially and reports
// aggregate counts. A step error fails its scenario; the runner moves on
// to the next scenario rather than aborting the run.
type Runner interface {
	Run(ctx context.Context, cfg RunConfig) (*Result, error)
}

type Result struct {
	Passed           bool     `json:"passed"`
	ScenarioCount    int      `json:"scenarioCount"`
	ScenariosPassed  int      `json:"scenariosPassed"`
	ScenariosFailed  int      `json:"scenariosFailed"`
	ScenariosSkipped int      `json:"scenariosSkipped"`
	StepCount        int      `json:"stepCount"`
	StepsPassed      int      `json:"stepsPassed"`
	StepsFailed      int      `json:"stepsFailed"`
	StepsSkipped     int      `json:"stepsSkipped"`
	StepsUndefined   int      `json:"stepsUndefined"`
	DurationMillis   int64    `json:"durationMillis"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
	FailedScenarios  []string `json:"failedScenarios"`
}

// Finalize recomputes the terminal verdict from the counters.
func (r *Result) Finalize() {
	r.Passed = len(r.FailedScenarios) == 0 && r.ScenariosFailed == 0 && r.ErrorMessage == ""
}

// SuccessRate is the passed-scenario percentage, rounded to one decimal.
// An empty run reports 0.0.
func (r *Result) SuccessRate() float64 {
	if r.ScenarioCount == 0 {
		return 0.0
	}
	rate := float64(r.ScenariosPassed) / float64(r.ScenarioCount) * 100
	return math.Round(rate*10) / 10
}

// Child wraps a Runner: it executes the run, finalizes the verdict and
// writes the report into the evidence directory.
type Child struct {
	runner Runner
	log    zerolog.Logger
}

func NewChild(runner Runner, logger zerolog.Logger) *Child {
	return &Child{runner: runner, log: logger.With().Str("component", "scenario-child").Logger()}
}

func (c *Child) Execute(ctx context.Context, cfg RunConfig) (*Result, error) {
	start := time.Now()
	result, err := c.runner.Run(ctx, cfg)
	if result == nil {
		result = &Result{}
	}
	if err != nil && result.ErrorMessage == "" {
		result.ErrorMessage = err.Error()
	}
	if result.DurationMillis == 0 {
		result.DurationMillis = time.Since(start).Milliseconds()
	}
	result.Finalize()

	if werr := c.writeReport(cfg.EvidenceDir, result); werr != nil {
		return result, werr
	}
	c.log.Info().
		Str("test", cfg.TestID.String()).
		Bool("passed", result.Passed).
		Int("scenarios", result.ScenarioCount).
		Float64("success_rate", result.SuccessRate()).
		Msg("scenario run complete")
	return result, err
}

func (c *Child) writeReport(evidenceDir string, result *Result) error {
	if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
		return fmt.Errorf("create evidence dir: %w", err)
	}
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(evidenceDir, ReportFile), body, 0o644)
}
