package runner

import (
	"sort"
	"strings"

	"github.com/signalnine/cloudeval/internal/config"
	"github.com/signalnine/cloudeval/internal/log"
)

// AssembleEnv builds the environment handed to the agent and its tools.
// Later sources win: base, the scenario variables, the agent's env, its
// credential mappings (dest <- value of source in base), and finally
// OPENAI_MODEL from the agent's model.
func AssembleEnv(base []string, scenarioPath, endpoint string, a *config.Agent) map[string]string {
	env := envMap(base)
	env["SCENARIO_PATH"] = scenarioPath
	env["ENDPOINT_URL"] = endpoint
	if a == nil {
		return env
	}
	for k, v := range a.Env {
		env[k] = v
	}
	for _, dest := range sortedKeys(a.CredentialsEnv) {
		source := a.CredentialsEnv[dest]
		value, ok := lookup(base, source)
		if !ok || value == "" {
			log.Warnf("agent %s: credential env %s is not set; skipping %s", a.Name, source, dest)
			continue
		}
		env[dest] = value
	}
	if a.Model != "" {
		env["OPENAI_MODEL"] = a.Model
	}
	log.Debugf("assembled agent env keys: %v", sortedKeys(env))
	return env
}

func envMap(base []string) map[string]string {
	env := make(map[string]string, len(base)+4)
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

func lookup(base []string, key string) (string, bool) {
	prefix := key + "="
	value, found := "", false
	for _, kv := range base {
		if strings.HasPrefix(kv, prefix) {
			value, found = kv[len(prefix):], true
		}
	}
	return value, found
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
