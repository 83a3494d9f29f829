// Package storage holds audio files while a pipeline run needs them.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// MediaStore is a scratch directory for uploaded audio. Files live only for
// the duration of one pipeline run.
type MediaStore struct {
	dir string
	log zerolog.Logger
}

// NewMediaStore creates the media directory if needed.
func NewMediaStore(dir string, log zerolog.Logger) (*MediaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &MediaStore{dir: dir, log: log}, nil
}

// Save writes the audio to the store under name and returns the full path.
// Atomic write: temp file + rename.
func (s *MediaStore) Save(name string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))

	tmp, err := os.CreateTemp(s.dir, ".media-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return path, nil
}

// Remove deletes a stored file. Missing files are not an error; other
// failures are logged, not surfaced, since cleanup never gates the result.
func (s *MediaStore) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("path", path).Msg("failed to remove media file")
	}
}

// Sweep deletes every file left in the store. Run at startup: anything
// still present belongs to a run that did not finish.
func (s *MediaStore) Sweep() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", s.dir, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn().Err(err).Str("name", e.Name()).Msg("sweep: failed to remove file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("swept stale media files")
	}
	return nil
}

// Dir returns the media directory path.
func (s *MediaStore) Dir() string { return s.dir }
