package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/signalnine/cloudeval/internal/log"
)

const AWSCLIName = "aws_cli"

// ExitTimeout is the return code reported when a command exceeds its deadline.
const ExitTimeout = 124

// ErrMissingEndpoint is returned when the agent environment has no ENDPOINT_URL.
var ErrMissingEndpoint = errors.New("ENDPOINT_URL is required to run aws_cli")

// CommandResult is the captured outcome of one process invocation.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// CommandRunner executes argv with the given environment.
type CommandRunner interface {
	RunCommand(ctx context.Context, argv []string, env map[string]string) (*CommandResult, error)
}

// AWSCLIOpts configures the aws_cli tool.
type AWSCLIOpts struct {
	Binary  string
	Runner  CommandRunner
	Timeout time.Duration
}

// NewAWSCLI builds the generic AWS CLI tool. Every invocation is pinned to
// the evaluation endpoint regardless of what the model asked for.
func NewAWSCLI(opts AWSCLIOpts) ToolDefinition {
	if opts.Binary == "" {
		opts.Binary = "aws"
	}
	if opts.Runner == nil {
		opts.Runner = LocalRunner{}
	}
	return ToolDefinition{
		Name:        AWSCLIName,
		Description: "Run a generic AWS CLI command against the evaluation endpoint.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
			},
			"required": []string{"command"},
		},
		Metadata: map[string]any{"provider": "aws"},
		Execute: func(ctx context.Context, args map[string]any, env map[string]string) (map[string]any, error) {
			endpoint := env["ENDPOINT_URL"]
			if endpoint == "" {
				return nil, ErrMissingEndpoint
			}
			command, _ := args["command"].(string)
			argv, err := BuildAWSCommand(opts.Binary, command, endpoint)
			if err != nil {
				return nil, err
			}
			invoked := strings.Join(argv, " ")
			log.Debugf("executing aws cli command: %s", invoked)

			runEnv := make(map[string]string, len(env)+1)
			for k, v := range env {
				runEnv[k] = v
			}
			if _, ok := runEnv["AWS_PAGER"]; !ok {
				runEnv["AWS_PAGER"] = ""
			}

			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}
			res, err := opts.Runner.RunCommand(ctx, argv, runEnv)
			if err != nil {
				return nil, fmt.Errorf("running %s: %w", argv[0], err)
			}
			return map[string]any{
				"command":         command,
				"invoked_command": invoked,
				"return_code":     res.ExitCode,
				"stdout":          strings.TrimSpace(res.Stdout),
				"stderr":          strings.TrimSpace(res.Stderr),
			}, nil
		},
	}
}

// BuildAWSCommand splits command with shell quoting rules, removes any
// --endpoint-url override and a leading "aws", then re-injects endpoint.
func BuildAWSCommand(binary, command, endpoint string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is required for aws_cli")
	}
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}
	cleaned := make([]string, 0, len(parts))
	skipNext := false
	for _, p := range parts {
		if skipNext {
			skipNext = false
			continue
		}
		if p == "--endpoint-url" {
			skipNext = true
			continue
		}
		if strings.HasPrefix(p, "--endpoint-url=") {
			continue
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned) > 0 && strings.EqualFold(cleaned[0], "aws") {
		cleaned = cleaned[1:]
	}
	return append([]string{binary, "--endpoint-url", endpoint}, cleaned...), nil
}

// LocalRunner executes commands as subprocesses of cloudeval, inheriting the
// process environment overlaid with the supplied variables.
type LocalRunner struct{}

func (LocalRunner) RunCommand(ctx context.Context, argv []string, env map[string]string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = MergeEnv(os.Environ(), env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		res.ExitCode = ExitTimeout
		res.TimedOut = true
		res.Stderr = strings.TrimSpace(res.Stderr + "\ncommand timed out: " + ctx.Err().Error())
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, err
	}
	return res, nil
}

// MergeEnv overlays vars on a KEY=VALUE list; later keys win.
func MergeEnv(base []string, vars map[string]string) []string {
	merged := make(map[string]string, len(base)+len(vars))
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range vars {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
