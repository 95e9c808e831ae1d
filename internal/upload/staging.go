// Package upload stages user-provided media files on local disk. Each staged
// file is tracked by a reference; the timeline releases the reference when
// the last media item using it is destroyed, and the file is removed then.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrRefNotFound = errors.New("staged upload not found")
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
)

const DefaultMaxFileBytes = 256 << 20 // 256 MiB

// StagedFile describes one staged upload.
type StagedFile struct {
	RefID    string `json:"ref_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type stagedRef struct {
	path     string
	filename string
	size     int64
	released bool
}

// Staging owns the staging directory. Release is exactly-once per ref: the
// first call deletes the file, later calls are no-ops.
type Staging struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger

	mu   sync.Mutex
	refs map[string]*stagedRef
}

func NewStaging(dir string, maxBytes int64, logger *slog.Logger) (*Staging, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Staging{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		refs:     make(map[string]*stagedRef),
	}, nil
}

// Stage copies one upload into the staging directory and returns its ref.
func (s *Staging) Stage(filename string, r io.Reader) (*StagedFile, error) {
	refID := uuid.NewString()
	name := refID + "-" + sanitizeFilename(filename)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if written > s.maxBytes {
		os.Remove(path)
		return nil, ErrTooLarge
	}

	s.mu.Lock()
	s.refs[refID] = &stagedRef{path: path, filename: filename, size: written}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("upload staged", "ref", refID, "filename", filename, "bytes", written)
	}
	return &StagedFile{RefID: refID, Filename: filename, Size: written}, nil
}

// Path returns the on-disk location of a staged upload for serving.
func (s *Staging) Path(refID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.refs[refID]
	if !ok || ref.released {
		return "", ErrRefNotFound
	}
	return ref.path, nil
}

// List returns all live staged uploads.
func (s *Staging) List() []StagedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StagedFile
	for id, ref := range s.refs {
		if ref.released {
			continue
		}
		out = append(out, StagedFile{RefID: id, Filename: ref.filename, Size: ref.size})
	}
	return out
}

// Release deletes a staged file. Releasing twice, or releasing an unknown
// ref, is a no-op so callers never race over the same ref.
func (s *Staging) Release(refID string) error {
	s.mu.Lock()
	ref, ok := s.refs[refID]
	if !ok || ref.released {
		s.mu.Unlock()
		return nil
	}
	ref.released = true
	path := ref.path
	delete(s.refs, refID)
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("upload released", "ref", refID)
	}
	return nil
}

// Close releases every remaining staged upload.
func (s *Staging) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.refs))
	for id := range s.refs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.Release(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sanitizeFilename keeps only the base name and replaces path separators so
// an upload can never escape the staging directory.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, "..", "")
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "upload"
	}
	return base
}
