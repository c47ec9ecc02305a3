package runstate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	ManifestPrefix  = "run_"
	ManifestPattern = ManifestPrefix + "*.yaml"
)

// Manifest threads one run's identifiers through every stage. It is rewritten
// after each stage so an interrupted run can be inspected or resumed.
type Manifest struct {
	RunID       string    `yaml:"run_id"`
	StartedAt   time.Time `yaml:"started_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
	RequestFile string    `yaml:"request_file,omitempty"`
	ReportFile  string    `yaml:"report_file,omitempty"`

	Documents int `yaml:"documents"`
	Succeeded int `yaml:"succeeded"`
	Skipped   int `yaml:"skipped"`
	Failed    int `yaml:"failed"`
	Requests  int `yaml:"requests"`

	InputFileID  string   `yaml:"input_file_id,omitempty"`
	BatchID      string   `yaml:"batch_id,omitempty"`
	HandleFile   string   `yaml:"handle_file,omitempty"`
	Status       string   `yaml:"status,omitempty"`
	OutputFileID string   `yaml:"output_file_id,omitempty"`
	Summaries    []string `yaml:"summaries,omitempty"`
	Error        string   `yaml:"error,omitempty"`

	path string
}

// NewManifest starts a manifest with a time-sortable run id.
func NewManifest(dir string, now time.Time) *Manifest {
	id := uuid.Must(uuid.NewV7()).String()
	return &Manifest{
		RunID:     id,
		StartedAt: now,
		UpdatedAt: now,
		path:      filepath.Join(dir, ManifestPrefix+id+".yaml"),
	}
}

func (m *Manifest) Path() string { return m.path }

func (m *Manifest) Save(now time.Time) error {
	m.UpdatedAt = now
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return &WriteError{Path: m.path, Err: err}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &WriteError{Path: m.path, Err: err}
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return &WriteError{Path: m.path, Err: err}
	}
	return nil
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	m.path = path
	return &m, nil
}

// FindManifest returns the most recently updated manifest in dir accepted by
// match. Manifests that cannot be read are passed over.
func FindManifest(dir string, match func(*Manifest) bool) (*Manifest, error) {
	paths, err := newestFirst(dir, ManifestPattern)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		m, err := LoadManifest(p)
		if err != nil {
			continue
		}
		if match == nil || match(m) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching manifest in %s", ErrNotFound, dir)
}
