package result

import (
	"time"

	"github.com/signalnine/cloudeval/internal/verify"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ActionRecord is one tool invocation made by an agent.
type ActionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

type Metrics struct {
	DurationSeconds    float64 `json:"duration_seconds"`
	StepCount          int     `json:"step_count"`
	Score              float64 `json:"score"`
	CostEstimateUSD    float64 `json:"cost_estimate_usd"`
	ErrorActionPenalty float64 `json:"error_action_penalty"`
	PromptTokens       int64   `json:"prompt_tokens"`
	CompletionTokens   int64   `json:"completion_tokens"`
}

// EvaluationReport is the artifact written for every scenario run.
type EvaluationReport struct {
	TaskID       string         `json:"task_id"`
	TaskName     string         `json:"task_name"`
	CategoryID   string         `json:"category_id,omitempty"`
	CategoryName string         `json:"category_name,omitempty"`
	Description  string         `json:"description"`
	Notes        []string       `json:"notes"`
	Links        []string       `json:"links"`
	Difficulty   string         `json:"difficulty,omitempty"`
	Agent        string         `json:"agent,omitempty"`
	Model        string         `json:"model,omitempty"`
	Actions      []ActionRecord `json:"actions"`
	Metrics      Metrics        `json:"metrics"`
	Verification *verify.Result `json:"verification"`
	StartedAt    time.Time      `json:"started_at"`
	GeneratedAt  time.Time      `json:"generated_at"`
	EndpointURL  string         `json:"endpoint_url"`
}
