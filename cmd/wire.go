package cmd

import (
	"fmt"
	"time"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/log"
	"github.com/signalnine/cloudeval/internal/pricing"
	"github.com/signalnine/cloudeval/internal/runner"
	"github.com/signalnine/cloudeval/internal/tasks"
	"github.com/signalnine/cloudeval/internal/tools"
)

// buildTools registers the tools agents may call. A configured image runs
// the AWS CLI in a container instead of on the host.
func buildTools(cfg *config.Config) (*tools.Registry, error) {
	opts := tools.AWSCLIOpts{
		Binary:  cfg.Tools.AWSCLI.Binary,
		Timeout: time.Duration(cfg.Tools.AWSCLI.TimeoutSeconds) * time.Second,
	}
	if cfg.Tools.AWSCLI.Image != "" {
		opts.Runner = tools.ContainerRunner{Image: cfg.Tools.AWSCLI.Image}
	}
	reg := tools.NewRegistry()
	if err := reg.Register(tools.NewAWSCLI(opts)); err != nil {
		return nil, err
	}
	return reg, nil
}

// selectAgent resolves the agent to run. With no agents configured the
// suite runs without one; naming an unknown agent is an error.
func selectAgent(cfg *config.Config, name string) (*config.Agent, error) {
	if len(cfg.Agents) == 0 && name == "" && cfg.Agent == "" {
		log.Warnf("no agents configured; scenarios will run without an agent")
		return nil, nil
	}
	a, ok := cfg.SelectAgent(name)
	if !ok {
		if name == "" {
			name = cfg.Agent
		}
		return nil, fmt.Errorf("agent %q not found in config", name)
	}
	return a, nil
}

func runnerOptions(cfg *config.Config, agentName, reportDir string) (*runner.Options, error) {
	a, err := selectAgent(cfg, agentName)
	if err != nil {
		return nil, err
	}
	reg, err := buildTools(cfg)
	if err != nil {
		return nil, err
	}
	table := pricing.Default()
	if cfg.Pricing != "" {
		loaded, err := pricing.Load(cfg.Pricing)
		if err != nil {
			log.Warnf("using built-in prices: %v", err)
		} else {
			table = loaded
		}
	}
	return &runner.Options{
		EndpointURL: cfg.EndpointURL,
		ReportDir:   reportDir,
		Agent:       a,
		NewAgent:    runner.OpenAIAgent(reg),
		Verifiers:   tasks.NewRegistry(),
		Target:      tasks.TargetFromEnv(cfg.EndpointURL),
		Pricing:     table,
	}, nil
}
