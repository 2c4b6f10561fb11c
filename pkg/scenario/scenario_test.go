package scenario_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
)

func TestStepsRunnerCounts(t *testing.T) {
	boom := errors.New("boom")
	runner := scenario.Steps{Scenarios: []scenario.Scenario{
		{Name: "passes", Steps: []scenario.Step{
			{Name: "one", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
			{Name: "two", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
		}},
		{Name: "fails", Steps: []scenario.Step{
			{Name: "bad", Fn: func(context.Context, scenario.RunConfig) error { return boom }},
			{Name: "never runs", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
		}},
		{Name: "also passes", Steps: []scenario.Step{
			{Name: "three", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
		}},
	}}

	result, err := runner.Run(context.Background(), scenario.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ScenarioCount)
	assert.Equal(t, 2, result.ScenariosPassed)
	assert.Equal(t, 1, result.ScenariosFailed)
	assert.Equal(t, 5, result.StepCount)
	assert.Equal(t, 3, result.StepsPassed)
	assert.Equal(t, 1, result.StepsFailed)
	assert.Equal(t, 1, result.StepsSkipped)
	assert.Equal(t, []string{"fails"}, result.FailedScenarios)
}

func TestStepsRunnerRecoversPanic(t *testing.T) {
	runner := scenario.Steps{Scenarios: []scenario.Scenario{
		{Name: "panics", Steps: []scenario.Step{
			{Name: "kaboom", Fn: func(context.Context, scenario.RunConfig) error { panic("kaboom") }},
		}},
		{Name: "still runs", Steps: []scenario.Step{
			{Name: "fine", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
		}},
	}}

	result, err := runner.Run(context.Background(), scenario.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ScenariosFailed)
	assert.Equal(t, 1, result.ScenariosPassed)
}

func TestSuccessRate(t *testing.T) {
	for _, tc := range []struct {
		count, passed int
		want          float64
	}{
		{count: 0, passed: 0, want: 0.0},
		{count: 3, passed: 3, want: 100.0},
		{count: 3, passed: 2, want: 66.7},
		{count: 8, passed: 1, want: 12.5},
	} {
		r := scenario.Result{ScenarioCount: tc.count, ScenariosPassed: tc.passed}
		assert.Equal(t, tc.want, r.SuccessRate())
	}
}

func TestFinalize(t *testing.T) {
	r := scenario.Result{ScenarioCount: 1, ScenariosPassed: 1, FailedScenarios: []string{}}
	r.Finalize()
	assert.True(t, r.Passed)

	r.ErrorMessage = "runner crashed"
	r.Finalize()
	assert.False(t, r.Passed)
}

func TestChildWritesReport(t *testing.T) {
	evidence := t.TempDir()
	runner := scenario.Steps{Scenarios: []scenario.Scenario{
		{Name: "only", Steps: []scenario.Step{
			{Name: "ok", Fn: func(context.Context, scenario.RunConfig) error { return nil }},
		}},
	}}

	child := scenario.NewChild(runner, zerolog.Nop())
	result, err := child.Execute(context.Background(), scenario.RunConfig{EvidenceDir: evidence})
	require.NoError(t, err)
	assert.True(t, result.Passed)

	body, err := os.ReadFile(filepath.Join(evidence, scenario.ReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"passed": true`)
	assert.Contains(t, string(body), `"scenarioCount": 1`)
}

type erroring struct{}

func (erroring) Run(context.Context, scenario.RunConfig) (*scenario.Result, error) {
	return nil, errors.New("glue packages missing")
}

func TestChildSurfacesRunnerError(t *testing.T) {
	child := scenario.NewChild(erroring{}, zerolog.Nop())
	result, err := child.Execute(context.Background(), scenario.RunConfig{EvidenceDir: t.TempDir()})
	require.Error(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "glue packages missing", result.ErrorMessage)
}
