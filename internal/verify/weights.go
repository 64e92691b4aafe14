package verify

import (
	"fmt"
	"strings"
)

// Component is one weighted sub-check of a task.
type Component struct {
	Name        string  `json:"name"`
	Label       string  `json:"label"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Weights is an ordered component set whose weights sum to 1.0.
type Weights struct {
	components []Component
}

// NewWeights validates components. The sum of weights must lie in
// [0.99, 1.01] and every weight in [0,1].
func NewWeights(components ...Component) (Weights, error) {
	seen := make(map[string]bool, len(components))
	total := 0.0
	for _, c := range components {
		if c.Name == "" {
			return Weights{}, fmt.Errorf("scoring component name is required")
		}
		if seen[c.Name] {
			return Weights{}, fmt.Errorf("duplicate scoring component %q", c.Name)
		}
		seen[c.Name] = true
		if c.Weight < 0 || c.Weight > 1 {
			return Weights{}, fmt.Errorf("scoring component %q weight %.3f outside [0,1]", c.Name, c.Weight)
		}
		total += c.Weight
	}
	if total < 0.99 || total > 1.01 {
		parts := make([]string, len(components))
		for i, c := range components {
			parts[i] = fmt.Sprintf("%s=%g", c.Name, c.Weight)
		}
		return Weights{}, fmt.Errorf("scoring weights must sum to 1.0, got %.3f (%s)", total, strings.Join(parts, ", "))
	}
	return Weights{components: append([]Component(nil), components...)}, nil
}

// MustWeights is NewWeights for static task tables; it panics on an invalid set.
func MustWeights(components ...Component) Weights {
	w, err := NewWeights(components...)
	if err != nil {
		panic(err)
	}
	return w
}

// Components returns the components in declaration order.
func (w Weights) Components() []Component {
	return append([]Component(nil), w.components...)
}

func (w Weights) Component(name string) (Component, bool) {
	for _, c := range w.components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Weight returns the weight of name, or 0 when it is not part of the set.
func (w Weights) Weight(name string) float64 {
	c, _ := w.Component(name)
	return c.Weight
}

// Full awards the whole weight of name when ok holds.
func (w Weights) Full(name string, ok bool) float64 {
	if !ok {
		return 0
	}
	return w.Weight(name)
}

// Results turns achieved values into result rows. Each value is clamped to
// [0, weight] and rounded to 3 places; missing names score 0.
func (w Weights) Results(values map[string]float64) map[string]ComponentResult {
	out := make(map[string]ComponentResult, len(w.components))
	for _, c := range w.components {
		v := values[c.Name]
		if v < 0 {
			v = 0
		}
		if v > c.Weight {
			v = c.Weight
		}
		limit := c.Weight
		out[c.Name] = ComponentResult{
			Label:       c.Label,
			Description: c.Description,
			Value:       Round(v, 3),
			Max:         &limit,
		}
	}
	return out
}

// Total adds the values of the set's components in declaration order.
// Names outside the set are ignored.
func (w Weights) Total(values map[string]float64) float64 {
	total := 0.0
	for _, c := range w.components {
		total += values[c.Name]
	}
	return total
}

// Score builds a Result from achieved values and the hard-requirement errors.
// Passed holds only when errs is empty, independent of the numeric score.
func (w Weights) Score(values map[string]float64, errs []string) *Result {
	components := w.Results(values)
	if errs == nil {
		errs = []string{}
	}
	total := 0.0
	for _, c := range w.components {
		total += components[c.Name].Value
	}
	return &Result{
		Score:        Round(Clamp01(total), 3),
		Components:   components,
		Passed:       len(errs) == 0,
		Errors:       errs,
		ScoreDetails: ScoreDetails{Components: map[string]ComponentResult{}},
	}
}
