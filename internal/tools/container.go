package tools

import (
	"context"
	"time"

	"github.com/signalnine/cloudeval/internal/docker"
)

// ContainerRunner executes commands inside a throwaway container built from
// Image, whose entrypoint is the CLI itself. Only the supplied variables are
// passed in; the host environment is not forwarded.
type ContainerRunner struct {
	Image string
}

func (r ContainerRunner) RunCommand(ctx context.Context, argv []string, env map[string]string) (*CommandResult, error) {
	args := append([]string(nil), argv[1:]...)
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "--endpoint-url" {
			args[i+1] = docker.HostReachable(args[i+1])
		}
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:   r.Image,
		Command: args,
		Env:     env,
		Timeout: timeout,
		Labels:  map[string]string{"cloudeval.tool": AWSCLIName},
	})
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimedOut: res.TimedOut,
	}, nil
}
