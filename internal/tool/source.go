package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// ErrNotFound is returned by Source.Lookup for unknown tool ids.
var ErrNotFound = errors.New("tool not found")

// Source resolves Tool records by id. The engine's retry-failed path depends
// on it to re-load the tool for a previously failed publication.
type Source interface {
	Lookup(id string) (*Tool, error)
	List() ([]*Tool, error)
}

// DirSource reads tool records from *.yaml / *.yml / *.json files in a
// directory. Files are re-read on every call; records are small and the
// directory is operator-managed.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// LoadFile parses a single tool record file and validates it.
func LoadFile(path string) (*Tool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Tool
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := Validate(&t); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

func (s *DirSource) List() ([]*Tool, error) {
	if s == nil || strings.TrimSpace(s.dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*Tool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		t, err := LoadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DirSource) Lookup(id string) (*Tool, error) {
	tools, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
