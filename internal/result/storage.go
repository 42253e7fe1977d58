package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateRunDir makes a fresh timestamped directory under
// <resultsDir>/runs for one experiment invocation and repoints the
// "latest" symlink at it.
func CreateRunDir(resultsDir string) (string, error) {
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	experimentDir, err := filepath.Abs(filepath.Join(resultsDir, "runs", stamp))
	if err != nil {
		return "", fmt.Errorf("resolving experiment dir: %w", err)
	}
	if err := os.MkdirAll(experimentDir, 0o755); err != nil {
		return "", fmt.Errorf("creating experiment dir: %w", err)
	}
	if err := pointLatest(resultsDir, experimentDir); err != nil {
		return "", err
	}
	return experimentDir, nil
}

// pointLatest swaps the "latest" symlink over to the new experiment
// directory.
func pointLatest(resultsDir, experimentDir string) error {
	latest := filepath.Join(resultsDir, "latest")
	if _, err := os.Lstat(latest); err == nil {
		if err := os.Remove(latest); err != nil {
			return fmt.Errorf("removing stale latest symlink: %w", err)
		}
	}
	if err := os.Symlink(experimentDir, latest); err != nil {
		return fmt.Errorf("creating latest symlink: %w", err)
	}
	return nil
}

// RunPath is the directory holding one run's record.
func RunPath(runDir, scenario string, run int) string {
	return filepath.Join(runDir, "runs", scenario, fmt.Sprintf("run-%d", run))
}

// WriteRunRecord persists a record as record.json in its run directory.
// Collected telemetry is never lost silently: a write failure is
// surfaced to the caller.
func WriteRunRecord(runPath string, rec *RunRecord) error {
	if err := os.MkdirAll(runPath, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runPath, "record.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

func ReadRunRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}
	return &rec, nil
}

// CollectRecords walks a run directory and loads every record.json,
// skipping files that fail to parse.
func CollectRecords(runDir string) ([]*RunRecord, error) {
	var recs []*RunRecord
	err := filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Name() == "record.json" {
			rec, err := ReadRunRecord(path)
			if err != nil {
				return nil
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}
