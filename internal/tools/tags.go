package tools

import "strings"

// BestPracticeTagKeys are the tag keys rewarded by task verifiers.
var BestPracticeTagKeys = []string{
	"environment",
	"project",
	"service",
	"team",
	"owner",
	"contact",
	"cost_center",
	"billing",
	"application",
	"stack",
	"department",
	"managed_by",
}

// TagScore awards limit/split for every best-practice key present in tags,
// capped at limit. Keys are compared trimmed and case-insensitively.
func TagScore(tags map[string]string, limit, split float64) float64 {
	if limit <= 0 {
		return 0
	}
	perTag := limit
	if split > 0 {
		perTag = limit / split
	}
	normalized := make(map[string]bool, len(tags))
	for k := range tags {
		normalized[strings.ToLower(strings.TrimSpace(k))] = true
	}
	matches := 0
	for _, key := range BestPracticeTagKeys {
		if normalized[key] {
			matches++
		}
	}
	return min(float64(matches)*perTag, limit)
}
