package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/scenario"
	"github.com/signalnine/cloudeval/internal/tools"
)

const DefaultMaxTurns = 6

const SystemPrompt = "You control AWS resources via a single aws_cli tool. " +
	"Only use tool calls to change resource state and never respond directly."

// ErrMalformedArguments is returned when the model's tool arguments are not
// a JSON object.
var ErrMalformedArguments = errors.New("malformed tool arguments")

// Reasons a conversation ended.
const (
	StopCompleted   = "completed"
	StopUnknownTool = "unknown_tool"
	StopMaxTurns    = "max_turns"
	StopMalformed   = "malformed_arguments"
	StopModelError  = "model_error"
)

// Outcome is what one conversation produced.
type Outcome struct {
	Actions          []result.ActionRecord
	Turns            int
	StopReason       string
	PromptTokens     int64
	CompletionTokens int64
}

// Loop runs a bounded tool-calling conversation.
type Loop struct {
	Model    ChatModel
	Tools    *tools.Registry
	MaxTurns int
	Tracer   trace.Tracer
}

func (l *Loop) tracer() trace.Tracer {
	if l.Tracer != nil {
		return l.Tracer
	}
	return otel.Tracer("github.com/signalnine/cloudeval/internal/agent")
}

// InitialMessages is the prompt every conversation starts from.
func InitialMessages(s *scenario.Scenario) []Message {
	return []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: "Task description:\n" + s.Instructions},
	}
}

// Run drives the model for at most MaxTurns turns. It stops early when the
// model answers without a tool call or names an unknown tool. Tool failures
// are recorded as error actions and the conversation continues. On error
// the actions recorded so far are returned with it.
func (l *Loop) Run(ctx context.Context, s *scenario.Scenario, env map[string]string) (*Outcome, error) {
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	messages := InitialMessages(s)
	descs := l.Tools.Descriptions()
	out := &Outcome{StopReason: StopMaxTurns}

	for turn := 1; turn <= maxTurns; turn++ {
		out.Turns = turn
		stop, err := l.turn(ctx, turn, &messages, descs, env, out)
		if err != nil {
			return out, err
		}
		if stop {
			break
		}
	}
	log.Debugf("agent finished %s after %d turns (%s)", s.TaskID, out.Turns, out.StopReason)
	return out, nil
}

func (l *Loop) turn(ctx context.Context, turn int, messages *[]Message, descs []tools.Description, env map[string]string, out *Outcome) (bool, error) {
	ctx, span := l.tracer().Start(ctx, "agent.turn", trace.WithAttributes(attribute.Int("agent.turn", turn)))
	defer span.End()

	prompt := append([]Message(nil), *messages...)
	resp, err := l.Model.Chat(ctx, prompt, descs)
	if err != nil {
		out.StopReason = StopModelError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("turn %d: %w", turn, err)
	}
	out.PromptTokens += resp.PromptTokens
	out.CompletionTokens += resp.CompletionTokens

	assistant := resp.Message
	assistant.Role = RoleAssistant
	if len(assistant.ToolCalls) > 1 {
		log.Warnf("model requested %d tool calls; only the first is executed", len(assistant.ToolCalls))
		assistant.ToolCalls = assistant.ToolCalls[:1]
	}
	*messages = append(*messages, assistant)
	if len(assistant.ToolCalls) == 0 {
		log.Debugf("no tool call returned; finishing interaction")
		out.StopReason = StopCompleted
		return true, nil
	}

	call := assistant.ToolCalls[0]
	span.SetAttributes(attribute.String("tool.name", call.Name))
	tool, ok := l.Tools.Get(call.Name)
	if !ok {
		log.Warnf("unknown tool requested: %s", call.Name)
		out.StopReason = StopUnknownTool
		span.SetStatus(codes.Error, "unknown tool")
		return true, nil
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		out.StopReason = StopMalformed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	log.Debugf("invoking tool %s with %v", tool.Name, args)
	res, err := tool.Execute(ctx, args, env)
	if err != nil {
		log.Warnf("tool %s failed: %v", tool.Name, err)
		res = map[string]any{
			"command":     args["command"],
			"error":       err.Error(),
			"return_code": 1,
		}
	}

	payload, err := json.Marshal(res)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	*messages = append(*messages, Message{Role: RoleTool, Content: string(payload), ToolCallID: call.ID})

	action := RecordAction(tool, args, res, &Trace{Prompt: prompt, Assistant: assistant})
	out.Actions = append(out.Actions, action)
	span.SetAttributes(attribute.String("tool.status", action.Status))
	return false, nil
}

// parseArguments decodes tool arguments. Empty arguments mean no arguments.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
