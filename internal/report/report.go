package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gofrs/flock"

	"github.com/signalnine/cloudeval/internal/log"
)

const (
	SummaryFile = "summary.json"
	lockFile    = ".summary.lock"
	unknownTask = "unknown"
)

// TaskSummary aggregates the reports that share one key.
type TaskSummary struct {
	Count     int     `json:"count"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	WithScore int     `json:"with_score"`
	AvgScore  float64 `json:"avg_score"`
	PassRate  float64 `json:"pass_rate"`

	totalScore float64
}

func (t *TaskSummary) add(score *float64, passed bool) {
	t.Count++
	if passed {
		t.Passed++
	} else {
		t.Failed++
	}
	if score != nil {
		t.WithScore++
		t.totalScore += *score
	}
	t.AvgScore, t.PassRate = averages(t.totalScore, t.WithScore, t.Passed, t.Count)
}

// Summary is the aggregate written to summary.json.
type Summary struct {
	TotalReports      int                                `json:"total_reports"`
	Passed            int                                `json:"passed"`
	Failed            int                                `json:"failed"`
	WithScore         int                                `json:"with_score"`
	AvgScore          float64                            `json:"avg_score"`
	PassRate          float64                            `json:"pass_rate"`
	ByTask            map[string]*TaskSummary            `json:"by_task"`
	ByDifficulty      map[string]int                     `json:"by_difficulty"`
	ByModel           map[string]*TaskSummary            `json:"by_model"`
	ByModelDifficulty map[string]map[string]*TaskSummary `json:"by_model_difficulty"`

	totalScore float64
}

func NewSummary() *Summary {
	return &Summary{
		ByTask:            map[string]*TaskSummary{},
		ByDifficulty:      map[string]int{},
		ByModel:           map[string]*TaskSummary{},
		ByModelDifficulty: map[string]map[string]*TaskSummary{},
	}
}

// reportDoc is the subset of a report the aggregate reads. Fields are loose
// so that reports written by older versions still count.
type reportDoc struct {
	TaskID       string         `json:"task_id"`
	Difficulty   any            `json:"difficulty"`
	Model        any            `json:"model"`
	Metrics      map[string]any `json:"metrics"`
	Verification map[string]any `json:"verification"`
}

func (d *reportDoc) score() *float64 {
	v, ok := d.Metrics["score"].(float64)
	if !ok {
		return nil
	}
	return &v
}

func (d *reportDoc) passed() bool {
	if len(d.Verification) > 0 {
		p, _ := d.Verification["passed"].(bool)
		return p
	}
	s := d.score()
	return s != nil && *s != 0
}

// add folds one report into the summary.
func (s *Summary) add(d *reportDoc) {
	score := d.score()
	passed := d.passed()

	s.TotalReports++
	if passed {
		s.Passed++
	} else {
		s.Failed++
	}
	if score != nil {
		s.WithScore++
		s.totalScore += *score
	}
	s.AvgScore, s.PassRate = averages(s.totalScore, s.WithScore, s.Passed, s.TotalReports)

	taskID := d.TaskID
	if taskID == "" {
		taskID = unknownTask
	}
	entry(s.ByTask, taskID).add(score, passed)

	difficulty := normalized(d.Difficulty, true)
	if difficulty != "" {
		s.ByDifficulty[difficulty]++
	}
	model := normalized(d.Model, false)
	if model == "" {
		return
	}
	entry(s.ByModel, model).add(score, passed)
	if difficulty != "" {
		byDiff, ok := s.ByModelDifficulty[model]
		if !ok {
			byDiff = map[string]*TaskSummary{}
			s.ByModelDifficulty[model] = byDiff
		}
		entry(byDiff, difficulty).add(score, passed)
	}
}

func entry(m map[string]*TaskSummary, key string) *TaskSummary {
	t, ok := m[key]
	if !ok {
		t = &TaskSummary{}
		m[key] = t
	}
	return t
}

func normalized(v any, lower bool) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	if lower {
		s = strings.ToLower(s)
	}
	return s
}

func averages(total float64, withScore, passed, count int) (avg, rate float64) {
	if withScore > 0 {
		avg = round4(total / float64(withScore))
	}
	if count > 0 {
		rate = round4(float64(passed) / float64(count))
	}
	return avg, rate
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Aggregate walks root for report files and summarizes them. The summary
// file itself and files that are not valid JSON are skipped.
func Aggregate(root string) (*Summary, error) {
	s := NewSummary()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return s, nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" || info.Name() == SummaryFile {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("skipping %s: %v", path, err)
			return nil
		}
		var doc reportDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Debugf("skipping %s: %v", path, err)
			return nil
		}
		s.add(&doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return s, nil
}

// WriteSummary writes s to <root>/summary.json while holding an advisory
// lock on the directory, and returns the path written.
func WriteSummary(root string, s *Summary) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", root, err)
	}
	lock := flock.New(filepath.Join(root, lockFile))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking summary: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling summary: %w", err)
	}
	path := filepath.Join(root, SummaryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}
	return path, nil
}

// ReadSummary loads a previously written summary.json.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	s := NewSummary()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}
	return s, nil
}

// FileInfo describes one report file under a report root.
type FileInfo struct {
	Name       string  `json:"name"`
	ModifiedAt float64 `json:"modified_at"`
	SizeBytes  int64   `json:"size_bytes"`
}

// List returns every JSON file under root, newest first. A missing root
// yields an empty list.
func List(root string) ([]FileInfo, error) {
	files := []FileInfo{}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return files, nil
	}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{
			Name:       filepath.ToSlash(rel),
			ModifiedAt: float64(info.ModTime().UnixNano()) / 1e9,
			SizeBytes:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedAt > files[j].ModifiedAt
	})
	return files, nil
}

// Generate summarizes the reports under root and renders them as a table,
// markdown, or json.
func Generate(root, format string, w io.Writer) error {
	s, err := Aggregate(root)
	if err != nil {
		return err
	}
	return Render(s, format, w)
}

func Render(s *Summary, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

type row struct {
	key string
	*TaskSummary
}

func sortedRows(m map[string]*TaskSummary) []row {
	rows := make([]row, 0, len(m))
	for k, v := range m {
		rows = append(rows, row{k, v})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].key < rows[j].key
	})
	return rows
}

func writeTable(s *Summary, w io.Writer) error {
	fmt.Fprintf(w, "%d reports, %d passed, %d failed (pass rate %.0f%%, avg score %.3f)\n\n",
		s.TotalReports, s.Passed, s.Failed, s.PassRate*100, s.AvgScore)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tRUNS\tPASSED\tPASS RATE\tAVG SCORE")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, r := range sortedRows(s.ByTask) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\t%.3f\n", r.key, r.Count, r.Passed, r.PassRate*100, r.AvgScore)
	}
	if len(s.ByModel) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MODEL\tRUNS\tPASSED\tPASS RATE\tAVG SCORE")
		fmt.Fprintln(tw, strings.Repeat("-", 72))
		for _, r := range sortedRows(s.ByModel) {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f%%\t%.3f\n", r.key, r.Count, r.Passed, r.PassRate*100, r.AvgScore)
		}
	}
	return tw.Flush()
}

func writeMarkdown(s *Summary, w io.Writer) error {
	fmt.Fprintf(w, "**%d reports**, %d passed, %d failed, pass rate %.0f%%, avg score %.3f\n\n",
		s.TotalReports, s.Passed, s.Failed, s.PassRate*100, s.AvgScore)
	fmt.Fprintln(w, "| Task | Runs | Passed | Pass Rate | Avg Score |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, r := range sortedRows(s.ByTask) {
		fmt.Fprintf(w, "| %s | %d | %d | %.0f%% | %.3f |\n", r.key, r.Count, r.Passed, r.PassRate*100, r.AvgScore)
	}
	if len(s.ByModel) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Model | Runs | Passed | Pass Rate | Avg Score |")
		fmt.Fprintln(w, "|---|---|---|---|---|")
		for _, r := range sortedRows(s.ByModel) {
			fmt.Fprintf(w, "| %s | %d | %d | %.0f%% | %.3f |\n", r.key, r.Count, r.Passed, r.PassRate*100, r.AvgScore)
		}
	}
	return nil
}

func writeJSON(s *Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
