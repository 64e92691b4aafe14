package pricing

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderOpenAI is the pricing key for models reached through the OpenAI API.
const ProviderOpenAI = "openai"

// ModelPricing holds USD prices per 1K tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider -> model -> prices.
type Table struct {
	Providers map[string]map[string]ModelPricing
}

// Default returns list prices for the chat models agents are usually
// configured with.
func Default() *Table {
	return &Table{Providers: map[string]map[string]ModelPricing{
		ProviderOpenAI: {
			"gpt-4o":       {Input: 0.0025, Output: 0.01},
			"gpt-4o-mini":  {Input: 0.00015, Output: 0.0006},
			"gpt-4.1":      {Input: 0.002, Output: 0.008},
			"gpt-4.1-mini": {Input: 0.0004, Output: 0.0016},
		},
	}}
}

// Load reads a YAML price file laid over Default. Entries in the file
// replace built-in ones model by model.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file %s: %w", path, err)
	}
	t := Default()
	for provider, models := range providers {
		if t.Providers[provider] == nil {
			t.Providers[provider] = make(map[string]ModelPricing, len(models))
		}
		for model, p := range models {
			t.Providers[provider][model] = p
		}
	}
	return t, nil
}

// Lookup finds the prices for model. A dated snapshot such as
// "gpt-4o-2024-08-06" falls back to the longest priced name it extends.
func (t *Table) Lookup(provider, model string) (ModelPricing, bool) {
	if t == nil {
		return ModelPricing{}, false
	}
	models := t.Providers[provider]
	if p, ok := models[model]; ok {
		return p, true
	}
	var (
		best  string
		found ModelPricing
	)
	for name, p := range models {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best, found = name, p
		}
	}
	return found, best != ""
}

// Cost estimates the USD cost of a run's token usage, rounded to 6 places.
// Unknown models and a nil table cost nothing.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int64) float64 {
	p, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	cost := float64(inputTokens)/1000*p.Input + float64(outputTokens)/1000*p.Output
	return math.Round(cost*1e6) / 1e6
}
