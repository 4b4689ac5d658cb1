package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the original bytes of uploaded papers in one directory, one file
// per paper named <paper id><extension>.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("files directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create files directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the files live in.
func (s *FileStore) Dir() string { return s.dir }

// Put writes content for paper id, keeping the extension of filename. The write goes
// through a temp file and a rename so that readers never see a partial file. A file
// stored earlier for id under another extension is removed.
func (s *FileStore) Put(id, filename string, content []byte) (string, error) {
	if !validFileID(id) {
		return "", fmt.Errorf("invalid paper id %q", id)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !validExt(ext) {
		ext = ""
	}
	path := filepath.Join(s.dir, id+ext)

	tmp, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	for _, old := range s.matches(id) {
		if old != path {
			_ = os.Remove(old)
		}
	}
	return path, nil
}

// Path returns the stored file of paper id, or ErrNotFound.
func (s *FileStore) Path(id string) (string, error) {
	if !validFileID(id) {
		return "", ErrNotFound
	}
	matches := s.matches(id)
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	return matches[0], nil
}

// Remove deletes the stored file of paper id. A missing file is not an error.
func (s *FileStore) Remove(id string) error {
	if !validFileID(id) {
		return nil
	}
	for _, path := range s.matches(id) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (s *FileStore) matches(id string) []string {
	var out []string
	if info, err := os.Stat(filepath.Join(s.dir, id)); err == nil && info.Mode().IsRegular() {
		out = append(out, filepath.Join(s.dir, id))
	}
	// ids carry no glob metacharacters, see validFileID
	globbed, _ := filepath.Glob(filepath.Join(s.dir, id+".*"))
	return append(out, globbed...)
}

func validFileID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
