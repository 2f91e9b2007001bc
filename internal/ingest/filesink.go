package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileSink keeps processed batches and their checklists on disk.
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink creates a sink writing into dir, created on first use.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, now: time.Now}
}

// Artifact names the files written for one batch.
type Artifact struct {
	BatchPath     string `json:"batch_path"`
	ChecklistPath string `json:"checklist_path"`
}

// Write stores records as a JSON array in metadata file format and checklist
// next to it.
func (s *FileSink) Write(user string, records []models.Record, checklist any) (*Artifact, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	base := fmt.Sprintf("%s_%s_%s",
		s.now().UTC().Format("20060102T150405"),
		unsafeName.ReplaceAllString(models.UserID(user), "_"),
		uuid.NewString()[:8],
	)
	art := &Artifact{
		BatchPath:     filepath.Join(s.dir, base+".json"),
		ChecklistPath: filepath.Join(s.dir, base+".checklist.json"),
	}

	if records == nil {
		records = []models.Record{}
	}
	if err := writeJSON(art.BatchPath, records); err != nil {
		return nil, err
	}
	if err := writeJSON(art.ChecklistPath, checklist); err != nil {
		return nil, err
	}
	return art, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
