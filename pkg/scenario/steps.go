package scenario

import (
	"context"
	"fmt"
)

// Step is one named action driven against the stream DSL.
type Step struct {
	Name string
	Fn   func(ctx context.Context, cfg RunConfig) error
}

// Scenario groups steps that run in order. A failing step fails the
// scenario and skips its remaining steps.
type Scenario struct {
	Name  string
	Steps []Step
}

// Steps is a programmatic Runner built from in-code scenarios. The bundles
// used in production carry feature files executed by an external Gherkin
// runner; Steps covers in-process suites and this repository's own tests.
type Steps struct {
	Scenarios []Scenario
}

func (s Steps) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	result := &Result{FailedScenarios: []string{}}
	for _, sc := range s.Scenarios {
		result.ScenarioCount++
		failed := false
		for _, st := range sc.Steps {
			result.StepCount++
			if failed {
				result.StepsSkipped++
				continue
			}
			if err := runStep(ctx, st, cfg); err != nil {
				result.StepsFailed++
				failed = true
				continue
			}
			result.StepsPassed++
		}
		if failed {
			result.ScenariosFailed++
			result.FailedScenarios = append(result.FailedScenarios, sc.Name)
			continue
		}
		result.ScenariosPassed++
	}
	return result, nil
}

func runStep(ctx context.Context, st Step, cfg RunConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", st.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return st.Fn(ctx, cfg)
}
