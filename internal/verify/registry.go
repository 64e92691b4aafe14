package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTask is returned by Lookup for a task id with no verifier.
var ErrUnknownTask = errors.New("no verifier registered for task")

// Target identifies the system under test a verifier inspects.
type Target struct {
	EndpointURL string
	Region      string
	AccessKeyID string
	SecretKey   string
}

// Factory builds a verifier bound to target.
type Factory func(ctx context.Context, target Target) (Verifier, error)

// Preparer is implemented by verifiers whose task needs resource state
// arranged before the agent runs.
type Preparer interface {
	Setup(ctx context.Context) error
}

// Registry is the static task id to verifier table. It is filled at startup
// and read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Add registers f for taskID. Adding the same id twice is a programming error.
func (r *Registry) Add(taskID string, f Factory) {
	if _, ok := r.factories[taskID]; ok {
		panic(fmt.Sprintf("verifier for %s registered twice", taskID))
	}
	r.factories[taskID] = f
}

func (r *Registry) Lookup(taskID string) (Factory, error) {
	f, ok := r.factories[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	return f, nil
}

func (r *Registry) Has(taskID string) bool {
	_, ok := r.factories[taskID]
	return ok
}

// TaskIDs lists registered ids sorted.
func (r *Registry) TaskIDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
