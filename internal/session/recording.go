package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/warren/internal/agent"
)

// Recording file names inside <dir>/<session id>/.
const (
	TranscriptFile = "transcript.json"
	MetadataFile   = "session.yaml"
	DiffFile       = "changes.diff"
)

// Recording is what a closed session leaves behind.
type Recording struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Branch    string        `json:"branch,omitempty" yaml:"branch,omitempty"`
	State     string        `json:"state" yaml:"state"`
	Failure   string        `json:"failure,omitempty" yaml:"failure,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	ClosedAt  time.Time     `json:"closed_at" yaml:"closed_at"`
	Entries   []agent.Entry `json:"entries" yaml:"-"`
}

// metadata is the human-readable summary written next to the transcript.
type metadata struct {
	Recording `yaml:",inline"`
	Entries   int  `yaml:"entries"`
	HasDiff   bool `yaml:"has_diff"`
}

// WriteRecording stores rec under dir/<id> and returns the transcript path.
// The diff is written only when non-empty.
func WriteRecording(dir string, rec Recording, diff string) (string, error) {
	sessionDir := filepath.Join(dir, rec.ID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	transcriptPath := filepath.Join(sessionDir, TranscriptFile)
	if err := atomicWriteFile(transcriptPath, data, 0o644); err != nil {
		return "", err
	}

	meta, err := yaml.Marshal(metadata{Recording: rec, Entries: len(rec.Entries), HasDiff: diff != ""})
	if err != nil {
		return transcriptPath, fmt.Errorf("failed to encode session metadata: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(sessionDir, MetadataFile), meta, 0o644); err != nil {
		return transcriptPath, err
	}

	if diff != "" {
		if err := atomicWriteFile(filepath.Join(sessionDir, DiffFile), []byte(diff), 0o644); err != nil {
			return transcriptPath, err
		}
	}
	return transcriptPath, nil
}

// ReadRecording loads a transcript written by WriteRecording.
func ReadRecording(path string) (Recording, error) {
	var rec Recording
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse recording %s: %w", path, err)
	}
	return rec, nil
}

// atomicWriteFile writes data to a temporary file in the same directory and
// renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
