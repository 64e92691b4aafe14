package runner

import (
	"time"

	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/scenario"
	"github.com/signalnine/cloudeval/internal/verify"
)

const (
	// PenaltyPerError is deducted from the score for each failed action.
	PenaltyPerError = 0.02

	PenaltyComponent = "error_action_penalty"
	PenaltyLabel     = "Penalty (-0.02 per error action)"
)

// FallbackScore rates a run on speed and economy alone. It is used when no
// verifier produced a result. An unset limit rates its dimension as 1.
func FallbackScore(s *scenario.Scenario, duration time.Duration, steps int) float64 {
	latency := 1.0
	if max := s.Scoring.MaxTimeSeconds; max > 0 {
		latency = verify.Clamp01(1 - duration.Seconds()/max)
	}
	stepScore := 1.0
	if max := s.Scoring.MaxSteps; max > 0 {
		stepScore = verify.Clamp01(1 - float64(steps)/float64(max))
	}
	return latency*s.Weight("latency") + stepScore*s.Weight("steps")
}

func CountErrors(actions []result.ActionRecord) int {
	n := 0
	for _, a := range actions {
		if a.Status == result.StatusError {
			n++
		}
	}
	return n
}

// Penalty is the deduction for the given number of failed actions, rounded
// to three places.
func Penalty(errorActions int) float64 {
	return verify.Round(PenaltyPerError*float64(errorActions), 3)
}

// ApplyPenalty deducts penalty from score without going below zero.
func ApplyPenalty(score, penalty float64) float64 {
	if score <= penalty {
		return 0
	}
	return verify.Round(score-penalty, 3)
}

// WithPenaltyComponent returns a copy of res whose score details list the
// penalty as a display-only component. The score itself is left alone.
func WithPenaltyComponent(res *verify.Result, penalty float64) *verify.Result {
	out := res.Clone()
	if out == nil {
		return nil
	}
	if out.ScoreDetails.Components == nil {
		out.ScoreDetails.Components = make(map[string]verify.ComponentResult, 1)
	}
	value := 0.0
	if penalty > 0 {
		value = -penalty
	}
	out.ScoreDetails.Components[PenaltyComponent] = verify.ComponentResult{
		Label: PenaltyLabel,
		Value: value,
	}
	return out
}
