package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/report"
	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/scenario"
)

// ErrNoScenarios is returned when discovery and filtering leave nothing to run.
var ErrNoScenarios = errors.New("no scenarios with registered verifiers found")

type ScenarioResult struct {
	TaskID     string
	ReportPath string
	Score      float64
	Passed     bool
	Err        error
}

type SuiteResult struct {
	SessionDir  string
	SummaryPath string
	Results     []ScenarioResult
}

// Failed counts scenarios whose report could not be written.
func (r *SuiteResult) Failed() int {
	n := 0
	for _, sr := range r.Results {
		if sr.Err != nil {
			n++
		}
	}
	return n
}

// RunSuite runs every discovered scenario under tasksDir matching task and
// category, one after another, in a single session directory, and then
// rewrites the summary for opts.ReportDir. Failures inside a scenario never
// abort the suite; configuration problems do, before anything runs.
func RunSuite(ctx context.Context, tasksDir, task, category string, opts *Options) (*SuiteResult, error) {
	if opts.Verifiers == nil {
		return nil, errors.New("no verifier registry configured")
	}
	all, err := scenario.Discover(tasksDir, opts.Verifiers.Has)
	if err != nil {
		return nil, err
	}
	selected := scenario.Filter(all, task, category)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoScenarios, tasksDir)
	}
	if err := CheckAgent(opts); err != nil {
		return nil, err
	}

	sessionDir, err := result.CreateSessionDir(opts.ReportDir, opts.SessionLabel)
	if err != nil {
		return nil, err
	}
	out := opts.out()
	fmt.Fprintf(out, "Session: %s (%d scenarios)\n", sessionDir, len(selected))

	suite := &SuiteResult{SessionDir: sessionDir}
	for _, s := range selected {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		rep, path, err := RunScenario(ctx, s, sessionDir, opts)
		sr := ScenarioResult{TaskID: s.TaskID, ReportPath: path, Err: err}
		if rep != nil {
			sr.Score = rep.Metrics.Score
			sr.Passed = rep.Verification != nil && rep.Verification.Passed
		}
		if err != nil {
			log.Errorf("%s: %v", s.TaskID, err)
		}
		suite.Results = append(suite.Results, sr)
	}

	summary, err := report.Aggregate(opts.ReportDir)
	if err == nil {
		suite.SummaryPath, err = report.WriteSummary(opts.ReportDir, summary)
	}
	if err != nil {
		log.Warnf("failed to write summary: %v", err)
	} else {
		fmt.Fprintf(out, "Summary written to %s\n", suite.SummaryPath)
	}
	return suite, nil
}

// CheckAgent builds the configured agent once so that bad credentials are
// reported before any scenario runs.
func CheckAgent(opts *Options) error {
	if opts.Agent == nil || opts.NewAgent == nil {
		return nil
	}
	env := AssembleEnv(opts.baseEnv(), "", opts.EndpointURL, opts.Agent)
	if _, err := opts.NewAgent(opts.Agent, env); err != nil {
		return fmt.Errorf("configuring agent: %w", err)
	}
	return nil
}
