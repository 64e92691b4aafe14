package verify

// Candidate is one resource that could satisfy a task, scored independently.
type Candidate[T any] struct {
	Name string
	// Disqualified marks a property the task penalises, such as a lifecycle
	// rule that deletes data.
	Disqualified bool
	Score        float64
	Value        T
}

// SelectBest prefers candidates that are not disqualified, then the highest
// score. Ties keep the earliest candidate. ok is false for an empty input.
func SelectBest[T any](candidates []Candidate[T]) (best Candidate[T], ok bool) {
	pool := make([]Candidate[T], 0, len(candidates))
	for _, c := range candidates {
		if !c.Disqualified {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = candidates
	}
	for i, c := range pool {
		if i == 0 || c.Score > best.Score {
			best = c
			ok = true
		}
	}
	return best, ok
}
