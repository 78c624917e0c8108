// Package modelstore loads per-category model artifacts from a directory.
//
// Each category has two JSON blobs named after the sanitized category:
// <name>_scaler.json and <name>_model.json. A missing artifact is not an error;
// it tells the caller to skip model scoring for that category.
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/kannan-ms/cloudCostAnalytics/internal/model"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
)

// Loader resolves the artifact for a category. found is false when no artifact exists.
type Loader interface {
	Load(category models.Category) (artifact *model.Artifact, found bool, err error)
}

// Store reads artifacts from dir and caches successful loads for the process lifetime.
type Store struct {
	dir   string
	mu    sync.Mutex
	cache map[models.Category]*model.Artifact
}

func New(dir string) *Store {
	return &Store{dir: dir, cache: make(map[models.Category]*model.Artifact)}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// SanitizeName replaces every non-alphanumeric rune with '_'.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
}

func (s *Store) paths(category models.Category) (scalerPath, modelPath string) {
	safe := SanitizeName(string(category))
	return filepath.Join(s.dir, safe+"_scaler.json"), filepath.Join(s.dir, safe+"_model.json")
}

func (s *Store) Load(category models.Category) (*model.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.cache[category]; ok {
		return a, true, nil
	}

	scalerPath, modelPath := s.paths(category)
	var scaler model.Scaler
	found, err := readJSON(scalerPath, &scaler)
	if err != nil || !found {
		return nil, false, err
	}
	var forest model.Forest
	found, err = readJSON(modelPath, &forest)
	if err != nil || !found {
		return nil, false, err
	}

	if err := scaler.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid scaler for %s: %w", category, err)
	}
	if err := forest.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid model for %s: %w", category, err)
	}
	if len(scaler.Mean) != forest.NumFeatures {
		return nil, false, fmt.Errorf("artifact for %s: scaler has %d features, model expects %d",
			category, len(scaler.Mean), forest.NumFeatures)
	}

	a := &model.Artifact{Category: category, Scaler: &scaler, Model: &forest}
	s.cache[category] = a
	return a, true, nil
}

// Save writes a category's scaler and forest and replaces any cached copy.
func (s *Store) Save(category models.Category, scaler *model.Scaler, forest *model.Forest) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	scalerPath, modelPath := s.paths(category)
	if err := writeJSON(scalerPath, scaler); err != nil {
		return fmt.Errorf("failed to write scaler: %w", err)
	}
	if err := writeJSON(modelPath, forest); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, category)
	s.mu.Unlock()
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

// writeJSON writes through a temp file so readers never see a partial artifact.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
