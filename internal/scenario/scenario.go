// Package scenario loads task definitions from meta.json/description.md pairs.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/signalnine/cloudeval/internal/log"
)

const (
	MetaFile        = "meta.json"
	DescriptionFile = "description.md"

	// DefaultWeightKey is the single scoring weight used when a scenario
	// declares none.
	DefaultWeightKey = "resource_correctness"
)

type Scoring struct {
	Weights        map[string]float64 `json:"weights" validate:"dive,gte=0,lte=1"`
	MaxTimeSeconds float64            `json:"max_time_seconds,omitempty" validate:"gte=0"`
	MaxSteps       int                `json:"max_steps,omitempty" validate:"gte=0"`
}

// Scenario is one runnable task: its metadata, the instructions handed to the
// agent and the fallback scoring knobs.
type Scenario struct {
	Path          string           `json:"-"`
	TaskID        string           `json:"task_id" validate:"required"`
	TaskName      string           `json:"task_name"`
	CategoryID    string           `json:"category_id,omitempty"`
	CategoryName  string           `json:"category_name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Author        string           `json:"author,omitempty"`
	CreatedAt     string           `json:"created_at,omitempty"`
	Difficulty    string           `json:"difficulty,omitempty"`
	Tags          []string         `json:"tags"`
	Notes         []string         `json:"notes"`
	Links         []string         `json:"links"`
	ExpectedSteps int              `json:"expected_steps" validate:"gte=0"`
	Tasks         []map[string]any `json:"tasks,omitempty"`
	Scoring       Scoring          `json:"scoring"`
	Instructions  string           `json:"-"`
}

// Label is the name shown to users and used for report file names.
func (s *Scenario) Label() string {
	return firstNonEmpty(s.TaskName, s.TaskID, "task")
}

// Weight returns the fallback scoring weight for key, 0 when absent.
func (s *Scenario) Weight(key string) float64 {
	return s.Scoring.Weights[key]
}

type scoringSpec struct {
	Weights        map[string]float64 `json:"weights"`
	MaxTimeSeconds float64            `json:"max_time_seconds"`
	MaxSteps       int                `json:"max_steps"`
}

type scenarioSpec struct {
	Name    string           `json:"name"`
	Tasks   []map[string]any `json:"tasks"`
	Scoring *scoringSpec     `json:"scoring"`
}

type metaFile struct {
	scenarioSpec
	Scenario *scenarioSpec `json:"scenario"`

	TaskID        *string  `json:"task_id"`
	TaskName      string   `json:"task_name"`
	CategoryID    string   `json:"category_id"`
	CategoryName  string   `json:"category_name"`
	Description   *string  `json:"description"`
	Author        string   `json:"author"`
	CreatedAt     string   `json:"created_at"`
	Difficulty    string   `json:"difficulty"`
	Tags          []string `json:"tags"`
	Notes         []string `json:"notes"`
	Links         []string `json:"links"`
	ExpectedSteps int      `json:"expected_steps"`
}

var validate = validator.New()

// Load reads a scenario from metaPath and the description.md next to it.
// The scenario body may be nested under a "scenario" key.
func Load(metaPath string) (*Scenario, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var m metaFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", metaPath, err)
	}
	instructions := ""
	if desc, err := os.ReadFile(filepath.Join(filepath.Dir(metaPath), DescriptionFile)); err == nil {
		instructions = string(desc)
	}

	spec := m.scenarioSpec
	if m.Scenario != nil {
		spec = *m.Scenario
	}

	s := &Scenario{
		Path:          metaPath,
		CategoryID:    m.CategoryID,
		CategoryName:  m.CategoryName,
		Author:        m.Author,
		CreatedAt:     m.CreatedAt,
		Difficulty:    m.Difficulty,
		Tags:          nonNil(m.Tags),
		Notes:         nonNil(m.Notes),
		Links:         nonNil(m.Links),
		ExpectedSteps: m.ExpectedSteps,
		Tasks:         spec.Tasks,
		Instructions:  instructions,
	}
	if m.TaskID != nil {
		s.TaskID = *m.TaskID
	} else {
		s.TaskID = firstNonEmpty(spec.Name, "unnamed")
	}
	s.TaskName = firstNonEmpty(m.TaskName, spec.Name, s.TaskID, "unnamed")
	if m.Description != nil {
		s.Description = *m.Description
	} else {
		s.Description = instructions
	}

	s.Scoring.Weights = map[string]float64{DefaultWeightKey: 1.0}
	if sc := spec.Scoring; sc != nil {
		if sc.Weights != nil {
			s.Scoring.Weights = sc.Weights
		}
		s.Scoring.MaxTimeSeconds = sc.MaxTimeSeconds
		s.Scoring.MaxSteps = sc.MaxSteps
	}

	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", metaPath, err)
	}
	return s, nil
}

// Discover walks root for meta.json files and loads every scenario whose task
// id satisfies known. Scenarios without a verifier are skipped with a warning.
// Results are ordered by path.
func Discover(root string, known func(taskID string) bool) ([]*Scenario, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == MetaFile {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(paths)

	var out []*Scenario
	for _, p := range paths {
		s, err := Load(p)
		if err != nil {
			log.Warnf("skipping %s: %v", p, err)
			continue
		}
		if known != nil && !known(s.TaskID) {
			log.Warnf("skipping %s: no verifier registered for %s", p, s.TaskID)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

var (
	kebabCaseRE = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)+$`)
	snakeCaseRE = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)+$`)
)

// IsIdentifierName reports whether name looks like a kebab-case or
// snake_case identifier rather than a human-readable title.
func IsIdentifierName(name string) bool {
	name = strings.TrimSpace(name)
	return kebabCaseRE.MatchString(name) || snakeCaseRE.MatchString(name)
}

// MatchCategory matches a category id against a filter. A trailing "/*"
// matches every category below the prefix.
func MatchCategory(category, pattern string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(category, prefix+"/")
	}
	return category == pattern
}

// Filter keeps scenarios matching a task id or name and a category pattern.
// Empty filters match everything.
func Filter(scenarios []*Scenario, task, category string) []*Scenario {
	var out []*Scenario
	for _, s := range scenarios {
		if task != "" && s.TaskID != task && !strings.EqualFold(s.TaskName, task) {
			continue
		}
		if category != "" && !MatchCategory(s.CategoryID, category) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
