package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionLayout is the time format of session directory names.
const SessionLayout = "2006-01-02T15-04-05Z"

// SessionLabel names the session directory for t, always in UTC.
func SessionLabel(t time.Time) string {
	return t.UTC().Format(SessionLayout)
}

// CreateSessionDir creates <baseDir>/<label> and points <baseDir>/latest at it.
// An empty label uses the current time.
func CreateSessionDir(baseDir, label string) (string, error) {
	if label == "" {
		label = SessionLabel(time.Now())
	}
	dir, err := filepath.Abs(filepath.Join(baseDir, label))
	if err != nil {
		return "", fmt.Errorf("resolving session dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating session dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(dir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return dir, nil
}

// Slug lowercases label and replaces spaces with dashes.
func Slug(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, " ", "-"))
}

// ReportPath is <sessionDir>/<slug>-<unix seconds>.json.
func ReportPath(sessionDir, label string, at time.Time) string {
	return filepath.Join(sessionDir, fmt.Sprintf("%s-%d.json", Slug(label), at.Unix()))
}

func WriteReport(path string, r *EvaluationReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadReport(path string) (*EvaluationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var r EvaluationReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return &r, nil
}
