package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalnine/cloudeval/internal/agent"
	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/pricing"
	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/scenario"
	"github.com/signalnine/cloudeval/internal/tools"
	"github.com/signalnine/cloudeval/internal/verify"
)

// AgentRunner drives an agent through one scenario.
type AgentRunner interface {
	Run(ctx context.Context, s *scenario.Scenario, env map[string]string) (*agent.Outcome, error)
}

// AgentFactory builds the runner for a configured agent. A nil runner with
// a nil error means the agent takes no actions.
type AgentFactory func(a *config.Agent, env map[string]string) (AgentRunner, error)

// OpenAIAgent returns a factory for tool-calling agents backed by the
// OpenAI chat API, using the tools in reg.
func OpenAIAgent(reg *tools.Registry) AgentFactory {
	return func(a *config.Agent, env map[string]string) (AgentRunner, error) {
		if a == nil || a.Kind == config.AgentKindNone {
			return nil, nil
		}
		model, err := agent.NewOpenAIModelFromEnv(env, a.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		return &agent.Loop{Model: model, Tools: reg, MaxTurns: a.MaxTurns}, nil
	}
}

type Options struct {
	EndpointURL string
	ReportDir   string
	// SessionLabel names the session directory; empty means the start time.
	SessionLabel string
	Agent        *config.Agent
	NewAgent     AgentFactory
	Verifiers    *verify.Registry
	Target       verify.Target
	Pricing      *pricing.Table
	// Env is the base agent environment; os.Environ() when nil.
	Env []string
	// Out receives progress lines; os.Stdout when nil.
	Out io.Writer
}

func (o *Options) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o *Options) baseEnv() []string {
	if o.Env != nil {
		return o.Env
	}
	return os.Environ()
}

var tracer = otel.Tracer("github.com/signalnine/cloudeval/internal/runner")

// RunScenario evaluates one scenario: optional task setup, the agent, the
// verifier, then scoring. The report is written under sessionDir and its
// path returned. Agent and verifier failures are logged and scored as
// they stand; only a failure to write the report is returned.
func RunScenario(ctx context.Context, s *scenario.Scenario, sessionDir string, opts *Options) (*result.EvaluationReport, string, error) {
	ctx, span := tracer.Start(ctx, "scenario.run", trace.WithAttributes(attribute.String("task.id", s.TaskID)))
	defer span.End()

	out := opts.out()
	started := time.Now()
	label := s.Label()
	fmt.Fprintf(out, "[%s] starting against %s\n", label, opts.EndpointURL)

	v := buildVerifier(ctx, s, opts)
	if p, ok := v.(verify.Preparer); ok {
		fmt.Fprintf(out, "[%s] preparing task resources\n", label)
		if err := p.Setup(ctx); err != nil {
			log.Warnf("setup for %s failed: %v", s.TaskID, err)
		}
	}

	outcome := runAgent(ctx, s, opts)

	var verification *verify.Result
	if v != nil {
		res, err := verify.Run(ctx, v)
		if err != nil {
			log.Warnf("verification failed for %s: %v", s.TaskID, err)
		} else {
			verification = res
		}
	}
	duration := time.Since(started)

	rep := &result.EvaluationReport{
		TaskID:       s.TaskID,
		TaskName:     label,
		CategoryID:   s.CategoryID,
		CategoryName: s.CategoryName,
		Description:  s.Description,
		Notes:        s.Notes,
		Links:        s.Links,
		Difficulty:   s.Difficulty,
		Actions:      outcome.Actions,
		StartedAt:    started.UTC(),
		EndpointURL:  opts.EndpointURL,
	}
	if rep.Actions == nil {
		rep.Actions = []result.ActionRecord{}
	}
	if opts.Agent != nil {
		rep.Agent = opts.Agent.Name
		rep.Model = opts.Agent.Model
	}
	rep.Metrics, rep.Verification = score(s, duration, outcome, verification)
	rep.Metrics.CostEstimateUSD = opts.Pricing.Cost(pricing.ProviderOpenAI, rep.Model, outcome.PromptTokens, outcome.CompletionTokens)
	rep.GeneratedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("scenario.steps", rep.Metrics.StepCount),
		attribute.Float64("scenario.score", rep.Metrics.Score),
	)

	path := result.ReportPath(sessionDir, label, rep.GeneratedAt)
	if err := result.WriteReport(path, rep); err != nil {
		return rep, "", fmt.Errorf("writing report for %s: %w", s.TaskID, err)
	}
	fmt.Fprintf(out, "[%s] score %.3f (%d actions, %d errors) -> %s\n",
		label, rep.Metrics.Score, rep.Metrics.StepCount, CountErrors(rep.Actions), path)
	return rep, path, nil
}

// score computes the metrics and the display copy of the verification.
// The penalty is deducted here and nowhere else.
func score(s *scenario.Scenario, duration time.Duration, outcome *agent.Outcome, verification *verify.Result) (result.Metrics, *verify.Result) {
	steps := len(outcome.Actions)
	total := FallbackScore(s, duration, steps)
	if verification != nil {
		total = verification.Score
	}
	penalty := Penalty(CountErrors(outcome.Actions))
	m := result.Metrics{
		DurationSeconds:    verify.Round(duration.Seconds(), 3),
		StepCount:          steps,
		Score:              ApplyPenalty(total, penalty),
		ErrorActionPenalty: penalty,
		PromptTokens:       outcome.PromptTokens,
		CompletionTokens:   outcome.CompletionTokens,
	}
	return m, WithPenaltyComponent(verification, penalty)
}

func buildVerifier(ctx context.Context, s *scenario.Scenario, opts *Options) verify.Verifier {
	if opts.Verifiers == nil {
		return nil
	}
	factory, err := opts.Verifiers.Lookup(s.TaskID)
	if err != nil {
		log.Warnf("%v", err)
		return nil
	}
	v, err := factory(ctx, opts.Target)
	if err != nil {
		log.Warnf("building verifier for %s: %v", s.TaskID, err)
		return nil
	}
	return v
}

// runAgent never fails: an agent error yields no actions, except that a
// conversation cut short by malformed arguments keeps what it did.
func runAgent(ctx context.Context, s *scenario.Scenario, opts *Options) *agent.Outcome {
	if opts.Agent == nil || opts.NewAgent == nil {
		log.Warnf("no agent configured; skipping agent execution for %s", s.TaskID)
		return &agent.Outcome{}
	}
	env := AssembleEnv(opts.baseEnv(), s.Path, opts.EndpointURL, opts.Agent)
	r, err := opts.NewAgent(opts.Agent, env)
	if err != nil {
		log.Errorf("agent %s failed to start: %v", opts.Agent.Name, err)
		return &agent.Outcome{}
	}
	if r == nil {
		log.Warnf("agent %s takes no actions; skipping agent execution", opts.Agent.Name)
		return &agent.Outcome{}
	}

	fmt.Fprintf(opts.out(), "[%s] running agent %s\n", s.Label(), opts.Agent.Name)
	outcome, err := r.Run(ctx, s, env)
	switch {
	case err == nil && outcome != nil:
		return outcome
	case errors.Is(err, agent.ErrMalformedArguments) && outcome != nil:
		log.Warnf("agent %s stopped early on %s: %v", opts.Agent.Name, s.TaskID, err)
		return outcome
	default:
		log.Errorf("agent %s failed on %s: %v", opts.Agent.Name, s.TaskID, err)
		return &agent.Outcome{}
	}
}
