// Package verify defines the contract every task verifier satisfies and the
// structured result it returns.
package verify

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Verifier inspects external resource state for one task. Implementations
// must only read state; they never mutate the system under test.
type Verifier interface {
	Verify(ctx context.Context) (*Result, error)
}

// ComponentResult is the achieved value for one scoring component.
// Max is nil for display-only lines such as the error penalty.
type ComponentResult struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Value       float64  `json:"value"`
	Max         *float64 `json:"max"`
}

type TimingInfo struct {
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ScoreDetails carries auxiliary data that is not part of the primary score.
type ScoreDetails struct {
	Timing     *TimingInfo                `json:"timing,omitempty"`
	Components map[string]ComponentResult `json:"components"`
}

// Result is the structured outcome of one verification.
type Result struct {
	Score        float64                    `json:"score"`
	Components   map[string]ComponentResult `json:"components"`
	Passed       bool                       `json:"passed"`
	Errors       []string                   `json:"errors"`
	ScoreDetails ScoreDetails               `json:"score_details"`
}

// Run calls v.Verify and attaches timing information. The result is
// otherwise returned as produced by the verifier.
func Run(ctx context.Context, v Verifier) (*Result, error) {
	started := time.Now()
	res, err := v.Verify(ctx)
	ended := time.Now()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("verifier %T returned no result", v)
	}
	res.ScoreDetails.Timing = &TimingInfo{
		StartedAt:       started,
		EndedAt:         ended,
		DurationSeconds: Round(ended.Sub(started).Seconds(), 3),
	}
	return res, nil
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{
		Score:      r.Score,
		Passed:     r.Passed,
		Components: cloneComponents(r.Components),
		Errors:     append([]string(nil), r.Errors...),
		ScoreDetails: ScoreDetails{
			Components: cloneComponents(r.ScoreDetails.Components),
		},
	}
	if r.ScoreDetails.Timing != nil {
		t := *r.ScoreDetails.Timing
		out.ScoreDetails.Timing = &t
	}
	return out
}

func cloneComponents(in map[string]ComponentResult) map[string]ComponentResult {
	if in == nil {
		return nil
	}
	out := make(map[string]ComponentResult, len(in))
	for k, c := range in {
		if c.Max != nil {
			m := *c.Max
			c.Max = &m
		}
		out[k] = c
	}
	return out
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// Clamp01 limits x to [0,1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
