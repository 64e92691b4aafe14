package docker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

type RunOpts struct {
	Image   string
	Command []string
	Env     map[string]string
	Timeout time.Duration
	Labels  map[string]string
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// RunContainer runs a one-shot container, waits for it to exit and returns
// its demultiplexed output. The container is always removed.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	labels := map[string]string{"cloudeval": "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Init: &initTrue,
		// Lets the container reach an endpoint published on the host.
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}
	containerCfg := &container.Config{
		Image:  opts.Image,
		Cmd:    opts.Command,
		Env:    EnvList(opts.Env),
		Labels: labels,
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	res := &RunResult{}
	for done := false; !done; {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				res.ExitCode = 124
				res.TimedOut = true
				done = true
			}
		case status := <-waitResult.Result:
			res.ExitCode = int(status.StatusCode)
			done = true
		}
	}
	res.Duration = time.Since(start)

	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err == nil {
		var stdout, stderr bytes.Buffer
		stdcopy.StdCopy(&stdout, &stderr, logReader)
		logReader.Close()
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
	}
	return res, nil
}

// EnvList renders vars as a sorted KEY=VALUE list.
func EnvList(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// HostReachable rewrites loopback hosts so a container can reach a service
// published on the docker host.
func HostReachable(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" {
		return endpoint
	}
	if port := u.Port(); port != "" {
		u.Host = "host.docker.internal:" + port
	} else {
		u.Host = "host.docker.internal"
	}
	return strings.TrimSuffix(u.String(), "/")
}
