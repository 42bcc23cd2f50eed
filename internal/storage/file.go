package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/your-org/iaction/internal/models"
)

// FileStore keeps detections in a local JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadDetections returns no detections when the file does not exist yet.
func (s *FileStore) LoadDetections(_ context.Context) ([]models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var out []models.Detection
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return out, nil
}

// SaveDetections writes to a temporary file and renames it over the old one.
func (s *FileStore) SaveDetections(_ context.Context, detections []models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if detections == nil {
		detections = []models.Detection{}
	}
	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
