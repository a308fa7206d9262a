// Package archive persists finished runs so their reports outlive the
// process that executed them.
package archive

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// ErrNotFound is returned when no archive exists for a run ID.
var ErrNotFound = errors.New("archived run not found")

var validID = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Store keeps one gzip-compressed JSON document per run under dir
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", fmt.Errorf("archive: invalid run id %q", id)
	}
	return filepath.Join(s.dir, id+".json.gz"), nil
}

// Save writes run, replacing any earlier copy. The file is renamed into
// place so readers never see a partial archive.
func (s *Store) Save(run models.Run) error {
	target, err := s.path(run.ID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, run.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	gw := gzip.NewWriter(tmp)
	gw.Name = run.ID + ".json"
	gw.ModTime = time.Now()
	if err := json.NewEncoder(gw).Encode(run); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: encode run %s: %w", run.ID, err)
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: compress run %s: %w", run.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("archive: store run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads the archived run with the given ID
func (s *Store) Load(id string) (*models.Run, error) {
	target, err := s.path(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: open run %s: %w", id, err)
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("archive: read run %s: %w", id, err)
	}
	defer gr.Close()

	var run models.Run
	if err := json.NewDecoder(gr).Decode(&run); err != nil {
		return nil, fmt.Errorf("archive: decode run %s: %w", id, err)
	}
	return &run, nil
}

// Prune removes archives last written before cutoff and returns how many
// were removed
func (s *Store) Prune(cutoff time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json.gz"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("archive: remove %s: %w", filepath.Base(path), err)
			}
			removed++
		}
	}
	return removed, nil
}
