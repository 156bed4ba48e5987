package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// ArtifactStore persists per-query execution evidence under the log
// directory: the append-only artifact file, generated scripts, and the final
// result CSV. One file per query, named by correlation id.
type ArtifactStore struct {
	dir string
	mu  sync.Mutex
}

// NewArtifactStore creates the directory layout.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	for _, sub := range []string{"", "scripts", "results"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) artifactPath(processID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("artifacts_%s.json", processID))
}

// Append adds one artifact to the query's artifact file. Entries are only
// ever added, never rewritten.
func (s *ArtifactStore) Append(processID string, a *models.StepArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(processID)
	if err != nil {
		return err
	}
	existing = append(existing, a)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling artifacts: %w", err)
	}
	return os.WriteFile(s.artifactPath(processID), data, 0o644)
}

// Load reads back the artifacts recorded for a query.
func (s *ArtifactStore) Load(processID string) ([]*models.StepArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(processID)
}

func (s *ArtifactStore) load(processID string) ([]*models.StepArtifact, error) {
	data, err := os.ReadFile(s.artifactPath(processID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifacts: %w", err)
	}
	var out []*models.StepArtifact
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing artifacts: %w", err)
	}
	return out, nil
}

// WriteScript saves a generated script for audit, labeled by its role
// ("step_2", "synthesis", "formatter").
func (s *ArtifactStore) WriteScript(processID, label, script string) error {
	path := filepath.Join(s.dir, "scripts", fmt.Sprintf("%s_%s.py", processID, label))
	return os.WriteFile(path, []byte(script), 0o644)
}

// WriteResultCSV saves the final tabular result. Column order follows the
// schema; values are stringified.
func (s *ArtifactStore) WriteResultCSV(processID string, rows []map[string]any, schema []models.ColumnSchema) error {
	if len(schema) == 0 {
		schema = InferSchema(rows)
	}
	path := filepath.Join(s.dir, "results", fmt.Sprintf("%s.csv", processID))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating result file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, len(schema))
	for i, c := range schema {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, len(schema))
	for _, row := range rows {
		for i, c := range schema {
			record[i] = stringify(row[c.Name])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
