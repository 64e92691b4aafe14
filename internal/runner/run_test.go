package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/cloudeval/internal/agent"
	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/pricing"
	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/runner"
	"github.com/signalnine/cloudeval/internal/scenario"
	"github.com/signalnine/cloudeval/internal/verify"
)

func TestFallbackScore(t *testing.T) {
	tests := []struct {
		name     string
		scoring  scenario.Scoring
		duration time.Duration
		steps    int
		want     float64
	}{
		{"no limits", scenario.Scoring{Weights: map[string]float64{"latency": 0.5, "steps": 0.5}}, time.Minute, 40, 1},
		{"half time used", scenario.Scoring{Weights: map[string]float64{"latency": 1}, MaxTimeSeconds: 60}, 30 * time.Second, 0, 0.5},
		{"over time clamps", scenario.Scoring{Weights: map[string]float64{"latency": 1}, MaxTimeSeconds: 60}, 2 * time.Minute, 0, 0},
		{"steps", scenario.Scoring{Weights: map[string]float64{"latency": 0.5, "steps": 0.5}, MaxSteps: 4}, 0, 2, 0.75},
		{"no fallback weights", scenario.Scoring{Weights: map[string]float64{"resource_correctness": 1}}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scenario.Scenario{Scoring: tt.scoring}
			assert.InDelta(t, tt.want, runner.FallbackScore(s, tt.duration, tt.steps), 1e-9)
		})
	}
}

func TestPenalty(t *testing.T) {
	assert.Equal(t, 0.0, runner.Penalty(0))
	assert.Equal(t, 0.06, runner.Penalty(3))
	assert.Equal(t, 0.88, runner.ApplyPenalty(0.9, runner.Penalty(1)))
	assert.Equal(t, 0.0, runner.ApplyPenalty(0.05, runner.Penalty(3)))
	assert.Equal(t, 0.0, runner.ApplyPenalty(0.06, 0.06))
}

func TestCountErrors(t *testing.T) {
	actions := []result.ActionRecord{{Status: result.StatusOK}, {Status: result.StatusError}, {Status: result.StatusError}}
	assert.Equal(t, 2, runner.CountErrors(actions))
	assert.Zero(t, runner.CountErrors(nil))
}

func TestWithPenaltyComponent(t *testing.T) {
	res := verify.MustWeights(verify.Component{Name: "exists", Label: "Exists", Weight: 1}).
		Score(map[string]float64{"exists": 1}, nil)

	shown := runner.WithPenaltyComponent(res, 0.04)
	require.Contains(t, shown.ScoreDetails.Components, runner.PenaltyComponent)
	c := shown.ScoreDetails.Components[runner.PenaltyComponent]
	assert.Equal(t, runner.PenaltyLabel, c.Label)
	assert.Equal(t, -0.04, c.Value)
	assert.Nil(t, c.Max)
	assert.Equal(t, 1.0, shown.Score)

	// The verifier's own result is untouched.
	assert.NotContains(t, res.ScoreDetails.Components, runner.PenaltyComponent)

	zero := runner.WithPenaltyComponent(res, 0)
	assert.Equal(t, 0.0, zero.ScoreDetails.Components[runner.PenaltyComponent].Value)
	data, err := json.Marshal(zero.ScoreDetails.Components[runner.PenaltyComponent])
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"Penalty (-0.02 per error action)","description":"","value":0,"max":null}`, string(data))

	assert.Nil(t, runner.WithPenaltyComponent(nil, 0.1))
}

func TestAssembleEnv(t *testing.T) {
	base := []string{"PATH=/bin", "ENDPOINT_URL=http://stale", "OPENAI_API_KEY=old", "VAULT_KEY=sk-real", "EMPTY="}
	a := &config.Agent{
		Name:           "gpt",
		Model:          "gpt-4o-mini",
		Env:            map[string]string{"AWS_DEFAULT_REGION": "us-east-1", "OPENAI_MODEL": "ignored"},
		CredentialsEnv: map[string]string{"OPENAI_API_KEY": "VAULT_KEY", "OTHER": "MISSING", "BLANK": "EMPTY"},
	}
	env := runner.AssembleEnv(base, "/tasks/x/meta.json", "http://localhost:4566", a)

	assert.Equal(t, "/bin", env["PATH"])
	assert.Equal(t, "/tasks/x/meta.json", env["SCENARIO_PATH"])
	assert.Equal(t, "http://localhost:4566", env["ENDPOINT_URL"])
	assert.Equal(t, "us-east-1", env["AWS_DEFAULT_REGION"])
	assert.Equal(t, "sk-real", env["OPENAI_API_KEY"])
	assert.Equal(t, "gpt-4o-mini", env["OPENAI_MODEL"])
	assert.NotContains(t, env, "OTHER")
	assert.NotContains(t, env, "BLANK")

	bare := runner.AssembleEnv(base, "p", "http://e", nil)
	assert.Equal(t, "old", bare["OPENAI_API_KEY"])
	assert.Equal(t, "http://e", bare["ENDPOINT_URL"])
}

// fakeAgent returns canned actions.
type fakeAgent struct {
	outcome *agent.Outcome
	err     error
	env     map[string]string
	calls   int
}

func (f *fakeAgent) Run(_ context.Context, _ *scenario.Scenario, env map[string]string) (*agent.Outcome, error) {
	f.calls++
	f.env = env
	return f.outcome, f.err
}

func factory(a runner.AgentRunner) runner.AgentFactory {
	return func(*config.Agent, map[string]string) (runner.AgentRunner, error) { return a, nil }
}

type fakeVerifier struct {
	res *verify.Result
	err error
}

func (f *fakeVerifier) Verify(context.Context) (*verify.Result, error) { return f.res, f.err }

// preparingVerifier records whether its setup ran before the agent.
type preparingVerifier struct {
	*fakeVerifier
	agent       *fakeAgent
	beforeAgent *bool
}

func (p preparingVerifier) Setup(context.Context) error {
	*p.beforeAgent = p.agent.calls == 0
	return nil
}

func registryWith(taskID string, v verify.Verifier) *verify.Registry {
	reg := verify.NewRegistry()
	reg.Add(taskID, func(context.Context, verify.Target) (verify.Verifier, error) { return v, nil })
	return reg
}

func actions(statuses ...string) []result.ActionRecord {
	out := make([]result.ActionRecord, len(statuses))
	for i, s := range statuses {
		out[i] = result.ActionRecord{Action: "aws_cli", Resource: fmt.Sprintf("cmd %d", i), Status: s, Timestamp: time.Now()}
	}
	return out
}

var bucketTask = &scenario.Scenario{
	Path:       "/tasks/bucket/meta.json",
	TaskID:     "bucket",
	TaskName:   "Create a bucket",
	Difficulty: "easy",
	Notes:      []string{},
	Links:      []string{},
	Scoring:    scenario.Scoring{Weights: map[string]float64{"latency": 0.5, "steps": 0.5}, MaxSteps: 4},
}

func TestRunScenarioWithVerifier(t *testing.T) {
	dir := t.TempDir()
	table, err := pricing.Load("../../testdata/pricing.yaml")
	require.NoError(t, err)

	a := &fakeAgent{outcome: &agent.Outcome{
		Actions:          actions(result.StatusOK, result.StatusError, result.StatusOK),
		PromptTokens:     2000,
		CompletionTokens: 1000,
	}}
	verified := verify.MustWeights(verify.Component{Name: "exists", Label: "Exists", Weight: 1}).
		Score(map[string]float64{"exists": 0.9}, nil)
	var out bytes.Buffer
	opts := &runner.Options{
		EndpointURL: "http://localhost:4566",
		Agent:       &config.Agent{Name: "gpt", Model: "gpt-4o"},
		NewAgent:    factory(a),
		Verifiers:   registryWith("bucket", &fakeVerifier{res: verified}),
		Pricing:     table,
		Env:         []string{"HOME=/root"},
		Out:         &out,
	}

	rep, path, err := runner.RunScenario(context.Background(), bucketTask, dir, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Metrics.StepCount)
	assert.Equal(t, 0.88, rep.Metrics.Score)
	assert.Equal(t, 0.02, rep.Metrics.ErrorActionPenalty)
	assert.InDelta(t, 0.015, rep.Metrics.CostEstimateUSD, 1e-9)
	assert.Equal(t, "gpt", rep.Agent)
	assert.Equal(t, "gpt-4o", rep.Model)
	require.NotNil(t, rep.Verification)
	assert.Equal(t, 0.9, rep.Verification.Score)
	assert.NotNil(t, rep.Verification.ScoreDetails.Timing)
	assert.Equal(t, -0.02, rep.Verification.ScoreDetails.Components[runner.PenaltyComponent].Value)
	assert.Equal(t, "/tasks/bucket/meta.json", a.env["SCENARIO_PATH"])
	assert.Equal(t, "http://localhost:4566", a.env["ENDPOINT_URL"])

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, `create-a-bucket-\d+\.json$`, filepath.Base(path))
	onDisk, err := result.ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "bucket", onDisk.TaskID)
	assert.Equal(t, 0.88, onDisk.Metrics.Score)
	assert.Len(t, onDisk.Actions, 3)
	assert.Contains(t, out.String(), "score 0.880")
}

func TestRunScenarioFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		agent     *fakeAgent
		verifier  *fakeVerifier
		wantSteps int
		wantScore float64
		wantVerif bool
	}{
		{
			name:      "no verification uses fallback",
			agent:     &fakeAgent{outcome: &agent.Outcome{Actions: actions(result.StatusOK, result.StatusOK)}},
			verifier:  &fakeVerifier{err: errors.New("endpoint unreachable")},
			wantSteps: 2,
			wantScore: 0.75,
		},
		{
			name:      "agent failure discards actions",
			agent:     &fakeAgent{outcome: &agent.Outcome{Actions: actions(result.StatusError)}, err: errors.New("rate limited")},
			verifier:  &fakeVerifier{res: &verify.Result{Score: 0.4, Errors: []string{"missing"}}},
			wantSteps: 0,
			wantScore: 0.4,
			wantVerif: true,
		},
		{
			name:      "malformed arguments keep actions",
			agent:     &fakeAgent{outcome: &agent.Outcome{Actions: actions(result.StatusError)}, err: fmt.Errorf("tool x: %w", agent.ErrMalformedArguments)},
			verifier:  &fakeVerifier{res: &verify.Result{Score: 0.4}},
			wantSteps: 1,
			wantScore: 0.38,
			wantVerif: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &runner.Options{
				EndpointURL: "http://e",
				Agent:       &config.Agent{Name: "a"},
				NewAgent:    factory(tt.agent),
				Verifiers:   registryWith("bucket", tt.verifier),
				Env:         []string{},
				Out:         &bytes.Buffer{},
			}
			rep, _, err := runner.RunScenario(context.Background(), bucketTask, t.TempDir(), opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSteps, rep.Metrics.StepCount)
			assert.Len(t, rep.Actions, tt.wantSteps)
			assert.InDelta(t, tt.wantScore, rep.Metrics.Score, 1e-9)
			assert.Equal(t, tt.wantVerif, rep.Verification != nil)
		})
	}
}

func TestRunScenarioWithoutAgent(t *testing.T) {
	opts := &runner.Options{EndpointURL: "http://e", Out: &bytes.Buffer{}}
	rep, path, err := runner.RunScenario(context.Background(), bucketTask, t.TempDir(), opts)
	require.NoError(t, err)
	assert.Empty(t, rep.Actions)
	assert.NotNil(t, rep.Actions)
	assert.Nil(t, rep.Verification)
	assert.Equal(t, 1.0, rep.Metrics.Score)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"verification": null`)
	assert.Contains(t, string(data), `"actions": []`)
}

func TestRunScenarioRunsSetupBeforeAgent(t *testing.T) {
	a := &fakeAgent{outcome: &agent.Outcome{}}
	var beforeAgent bool
	v := preparingVerifier{fakeVerifier: &fakeVerifier{res: &verify.Result{Score: 1, Passed: true}}, agent: a, beforeAgent: &beforeAgent}
	opts := &runner.Options{
		EndpointURL: "http://e",
		Agent:       &config.Agent{Name: "a"},
		NewAgent:    factory(a),
		Verifiers:   registryWith("bucket", v),
		Env:         []string{},
		Out:         &bytes.Buffer{},
	}
	rep, _, err := runner.RunScenario(context.Background(), bucketTask, t.TempDir(), opts)
	require.NoError(t, err)
	assert.True(t, beforeAgent)
	assert.Equal(t, 1, a.calls)
	assert.True(t, rep.Verification.Passed)
}
