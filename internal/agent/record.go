package agent

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/tools"
)

// Trace is the model exchange that produced a tool call.
type Trace struct {
	Prompt    []Message `json:"prompt"`
	Assistant Message   `json:"assistant"`
}

// now is replaced in tests.
var now = time.Now

// RecordAction builds the trail entry for one tool invocation. The status
// is "error" exactly when the result carries a non-zero return_code.
func RecordAction(tool tools.ToolDefinition, args, res map[string]any, trace *Trace) result.ActionRecord {
	status := result.StatusOK
	if ReturnCode(res) != 0 {
		status = result.StatusError
	}
	metadata := make(map[string]any, len(tool.Metadata)+3)
	maps.Copy(metadata, tool.Metadata)
	metadata["args"] = args
	metadata["result"] = res
	if trace != nil {
		metadata["llm_trace"] = trace
	}
	return result.ActionRecord{
		Timestamp: now().UTC(),
		Action:    tool.Name,
		Resource:  resourceLabel(tool.Name, args, res),
		Status:    status,
		Metadata:  metadata,
	}
}

// ReturnCode reads return_code from a tool result. A missing or
// non-numeric code counts as 0.
func ReturnCode(res map[string]any) int {
	switch v := res["return_code"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func resourceLabel(toolName string, args, res map[string]any) string {
	if s, _ := res["invoked_command"].(string); s != "" {
		return s
	}
	if s, _ := args["command"].(string); s != "" {
		return s
	}
	return toolName
}
