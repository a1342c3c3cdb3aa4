package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	modelSuffix    = ".zpk.json"
	responseSuffix = ".response.json"
	reportSuffix   = ".report.json"
)

// ErrNotFound is returned when a named document does not exist.
var ErrNotFound = errors.New("models: document not found")

// Store keeps documents as JSON files under one directory.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore returns a store rooted at dir on fs.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, root: dir}
}

func (s *Store) path(name, suffix string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("models: invalid document name %q", name)
	}
	return filepath.Join(s.root, name+suffix), nil
}

func (s *Store) write(name, suffix string, doc any) (string, error) {
	path, err := s.path(name, suffix)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.fs.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (s *Store) read(name, suffix string, doc any) error {
	path, err := s.path(name, suffix)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// SaveModel writes doc as <name>.zpk.json and returns the path.
func (s *Store) SaveModel(doc ModelDocument) (string, error) {
	if doc.Model == nil {
		return "", fmt.Errorf("models: %s has no model", doc.Name)
	}
	return s.write(doc.Name, modelSuffix, doc)
}

// LoadModel reads a model document. The roots are validated on decode.
func (s *Store) LoadModel(name string) (ModelDocument, error) {
	var doc ModelDocument
	if err := s.read(name, modelSuffix, &doc); err != nil {
		return ModelDocument{}, err
	}
	if doc.Model == nil {
		return ModelDocument{}, fmt.Errorf("models: %s has no model", name)
	}
	return doc, nil
}

// SaveResponse writes doc as <name>.response.json and returns the path.
func (s *Store) SaveResponse(doc ResponseDocument) (string, error) {
	return s.write(doc.Name, responseSuffix, doc)
}

// LoadResponse reads a response document.
func (s *Store) LoadResponse(name string) (ResponseDocument, error) {
	var doc ResponseDocument
	err := s.read(name, responseSuffix, &doc)
	return doc, err
}

// SaveReport writes a run report as <run id>.report.json.
func (s *Store) SaveReport(report RunReport) (string, error) {
	return s.write(report.RunID, reportSuffix, report)
}

// Models lists the names of stored model documents, sorted.
func (s *Store) Models() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), modelSuffix) {
			names = append(names, strings.TrimSuffix(e.Name(), modelSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}
