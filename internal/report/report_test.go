package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/cloudeval/internal/report"
	"github.com/signalnine/cloudeval/internal/result"
	"github.com/signalnine/cloudeval/internal/verify"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeReports(t *testing.T, root string) {
	t.Helper()
	reports := []*result.EvaluationReport{
		{TaskID: "bucket", Difficulty: "Easy ", Model: "gpt-4o", Metrics: result.Metrics{Score: 1},
			Verification: &verify.Result{Score: 1, Passed: true}},
		{TaskID: "bucket", Difficulty: "easy", Model: " gpt-4o", Metrics: result.Metrics{Score: 0.5},
			Verification: &verify.Result{Score: 0.5, Passed: false}},
		{TaskID: "queue", Difficulty: "medium", Model: "gpt-4o-mini", Metrics: result.Metrics{Score: 0.2}},
	}
	for i, r := range reports {
		path := filepath.Join(root, "2025-01-01T00-00-00Z", r.TaskID+"-"+string(rune('a'+i))+".json")
		require.NoError(t, result.WriteReport(path, r))
	}
}

func TestAggregate(t *testing.T) {
	root := t.TempDir()
	writeReports(t, root)
	// Neither of these is counted.
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{not json"), 0o644))
	writeJSON(t, filepath.Join(root, report.SummaryFile), map[string]any{"total_reports": 99})
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	s, err := report.Aggregate(root)
	require.NoError(t, err)

	assert.Equal(t, 3, s.TotalReports)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.WithScore)
	assert.Equal(t, 0.5667, s.AvgScore)
	assert.Equal(t, 0.6667, s.PassRate)

	require.Contains(t, s.ByTask, "bucket")
	bucket := s.ByTask["bucket"]
	assert.Equal(t, 2, bucket.Count)
	assert.Equal(t, 1, bucket.Passed)
	assert.Equal(t, 0.75, bucket.AvgScore)
	assert.Equal(t, 0.5, bucket.PassRate)

	assert.Equal(t, map[string]int{"easy": 2, "medium": 1}, s.ByDifficulty)
	assert.Len(t, s.ByModel, 2)
	assert.Equal(t, 2, s.ByModel["gpt-4o"].Count)
	assert.Equal(t, 1, s.ByModelDifficulty["gpt-4o-mini"]["medium"].Passed)
}

func TestAggregatePassedRules(t *testing.T) {
	tests := []struct {
		name       string
		doc        map[string]any
		wantPassed int
		withScore  int
		task       string
	}{
		{"verification wins", map[string]any{"task_id": "a", "metrics": map[string]any{"score": 0.9}, "verification": map[string]any{"passed": false}}, 0, 1, "a"},
		{"score truthy", map[string]any{"task_id": "a", "metrics": map[string]any{"score": 0.1}, "verification": nil}, 1, 1, "a"},
		{"zero score", map[string]any{"task_id": "a", "metrics": map[string]any{"score": 0}}, 0, 1, "a"},
		{"null score", map[string]any{"metrics": map[string]any{"score": nil}}, 0, 0, "unknown"},
		{"empty verification falls back", map[string]any{"task_id": "b", "metrics": map[string]any{"score": 1}, "verification": map[string]any{}}, 1, 1, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeJSON(t, filepath.Join(root, "r.json"), tt.doc)
			s, err := report.Aggregate(root)
			require.NoError(t, err)
			assert.Equal(t, 1, s.TotalReports)
			assert.Equal(t, tt.wantPassed, s.Passed)
			assert.Equal(t, tt.withScore, s.WithScore)
			assert.Contains(t, s.ByTask, tt.task)
			assert.Empty(t, s.ByModel)
		})
	}
}

func TestAggregateTotals(t *testing.T) {
	tests := []struct {
		name      string
		docs      []map[string]any
		total     int
		withScore int
		passed    int
		avgScore  float64
		passRate  float64
	}{
		{
			name: "unscored report counts toward total only",
			docs: []map[string]any{
				{"task_id": "a", "metrics": map[string]any{"score": 1.0}, "verification": map[string]any{"passed": true}},
				{"task_id": "a", "metrics": map[string]any{"score": 0.5}, "verification": map[string]any{"passed": true}},
				{"task_id": "a", "metrics": map[string]any{"score": nil}, "verification": map[string]any{"passed": false}},
			},
			total: 3, withScore: 2, passed: 2, avgScore: 0.75, passRate: 0.6667,
		},
		{
			name: "no scores at all",
			docs: []map[string]any{
				{"task_id": "a", "metrics": map[string]any{}},
				{"task_id": "b"},
			},
			total: 2, withScore: 0, passed: 0, avgScore: 0, passRate: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for i, doc := range tt.docs {
				writeJSON(t, filepath.Join(root, "run", string(rune('a'+i))+".json"), doc)
			}
			s, err := report.Aggregate(root)
			require.NoError(t, err)
			assert.Equal(t, tt.total, s.TotalReports)
			assert.Equal(t, tt.withScore, s.WithScore)
			assert.Equal(t, tt.passed, s.Passed)
			assert.Equal(t, tt.total-tt.passed, s.Failed)
			assert.Equal(t, tt.avgScore, s.AvgScore)
			assert.Equal(t, tt.passRate, s.PassRate)
		})
	}
}

func TestAggregateMissingRoot(t *testing.T) {
	s, err := report.Aggregate(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, s.TotalReports)
	assert.Zero(t, s.PassRate)
}

func TestWriteSummary(t *testing.T) {
	root := t.TempDir()
	writeReports(t, root)
	s, err := report.Aggregate(root)
	require.NoError(t, err)

	path, err := report.WriteSummary(root, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, report.SummaryFile), path)

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(first), "\n  \"total_reports\": 3,")

	// Re-aggregating ignores the summary and writes identical bytes.
	again, err := report.Aggregate(root)
	require.NoError(t, err)
	_, err = report.WriteSummary(root, again)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	loaded, err := report.ReadSummary(path)
	require.NoError(t, err)
	assert.Equal(t, s.ByDifficulty, loaded.ByDifficulty)
	assert.Equal(t, s.PassRate, loaded.PassRate)
}

func TestGenerateFormats(t *testing.T) {
	root := t.TempDir()
	writeReports(t, root)

	tests := []struct {
		format string
		want   []string
	}{
		{"table", []string{"3 reports, 2 passed", "TASK", "bucket", "queue", "MODEL", "gpt-4o-mini"}},
		{"markdown", []string{"| Task | Runs |", "| bucket | 2 | 1 | 50% | 0.750 |", "| Model |"}},
		{"json", []string{`"total_reports": 3`, `"by_model_difficulty"`}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, report.Generate(root, tt.format, &buf))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	older := filepath.Join(root, "s1", "old.json")
	newer := filepath.Join(root, "s2", "new.json")
	writeJSON(t, older, map[string]any{})
	writeJSON(t, newer, map[string]any{"task_id": "x"})
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	files, err := report.List(root)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "s2/new.json", files[0].Name)
	assert.Equal(t, "s1/old.json", files[1].Name)
	assert.Equal(t, int64(2), files[1].SizeBytes)

	empty, err := report.List(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
