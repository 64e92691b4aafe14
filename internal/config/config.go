package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxTurns    = 6
	DefaultServiceAddr = ":5000"
	AgentKindOpenAI    = "openai"
	AgentKindNone      = "none"
)

// ErrMissingEndpoint is returned when no endpoint_url is configured in the
// file or the environment.
var ErrMissingEndpoint = errors.New("endpoint_url is required (set it in the config or ENDPOINT_URL)")

type Config struct {
	EndpointURL string  `yaml:"endpoint_url" validate:"required,url"`
	TasksDir    string  `yaml:"tasks_dir"`
	Agent       string  `yaml:"agent"`
	Agents      []Agent `yaml:"agents" validate:"dive"`
	Tools       Tools   `yaml:"tools"`
	Service     Service `yaml:"service"`
	Secrets     Secrets `yaml:"secrets"`
	Results     Results `yaml:"results"`
	Pricing     string  `yaml:"pricing"`
}

type Agent struct {
	Name           string            `yaml:"name" validate:"required"`
	Kind           string            `yaml:"kind" validate:"omitempty,oneof=openai none"`
	Model          string            `yaml:"model"`
	BaseURL        string            `yaml:"base_url" validate:"omitempty,url"`
	MaxTurns       int               `yaml:"max_turns" validate:"gte=0,lte=50"`
	Env            map[string]string `yaml:"env"`
	CredentialsEnv map[string]string `yaml:"credentials_env"`
}

type Tools struct {
	AWSCLI AWSCLI `yaml:"aws_cli"`
}

// AWSCLI configures the aws_cli tool. When Image is set the CLI runs in a
// container instead of a local subprocess.
type AWSCLI struct {
	Binary         string `yaml:"binary"`
	Image          string `yaml:"image"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"`
}

type Service struct {
	Addr        string   `yaml:"addr"`
	DBPath      string   `yaml:"db_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

// Load reads the YAML config at path, loads the secrets env file into the
// process environment (without overriding existing values), applies
// environment overrides and validates the result. A missing config file is
// tolerated so the suite can be driven purely from the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv("ENDPOINT_URL") != "":
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	envFile := firstNonEmpty(os.Getenv("CLOUD_EVAL_ENV_FILE"), cfg.Secrets.EnvFile, ".env")
	if err := LoadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
	}
	cfg.Secrets.EnvFile = envFile

	applyEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ENDPOINT_URL"); v != "" {
		cfg.EndpointURL = v
	}
	if v := os.Getenv("CLOUD_EVAL_TASKS_DIR"); v != "" {
		cfg.TasksDir = v
	}
	if v := os.Getenv("CLOUD_EVAL_REPORT_DIR"); v != "" {
		cfg.Results.Dir = v
	}
	if v := os.Getenv("CLOUD_EVAL_AGENT_NAME"); v != "" {
		cfg.Agent = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		cfg.Service.Addr = ":" + strings.TrimPrefix(v, ":")
	}
}

var validate10 = validator.New()

func validate(cfg *Config) error {
	if cfg.EndpointURL == "" {
		return ErrMissingEndpoint
	}
	if cfg.TasksDir == "" {
		cfg.TasksDir = "tasks"
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "reports"
	}
	if cfg.Service.Addr == "" {
		cfg.Service.Addr = DefaultServiceAddr
	}
	if cfg.Service.DBPath == "" {
		cfg.Service.DBPath = "cloudeval.db"
	}
	if cfg.Tools.AWSCLI.Binary == "" {
		cfg.Tools.AWSCLI.Binary = "aws"
	}
	seen := make(map[string]bool)
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %q: defined more than once", a.Name)
		}
		seen[a.Name] = true
		if a.Kind == "" {
			a.Kind = AgentKindOpenAI
		}
		if a.MaxTurns == 0 {
			a.MaxTurns = DefaultMaxTurns
		}
	}
	if err := validate10.Struct(cfg); err != nil {
		return err
	}
	return nil
}

// SelectAgent returns the agent with the given name, or the first agent when
// name is empty. The boolean is false when nothing matches.
func (c *Config) SelectAgent(name string) (*Agent, bool) {
	if name == "" {
		name = c.Agent
	}
	if name == "" {
		if len(c.Agents) == 0 {
			return nil, false
		}
		return &c.Agents[0], true
	}
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
