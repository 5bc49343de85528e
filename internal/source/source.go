package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scheme prefixes a resource input value that names a local artifact whose
// content identity should drive change detection.
const Scheme = "file://"

// ErrContentUnavailable wraps a missing or unreadable source artifact. It
// fails planning for the owning node only.
type ErrContentUnavailable struct {
	Path string
	Err  error
}

func (e *ErrContentUnavailable) Error() string {
	return fmt.Sprintf("content unavailable: %s: %v", e.Path, e.Err)
}

func (e *ErrContentUnavailable) Unwrap() error { return e.Err }

// ContentSource is the boundary between the engine and local artifacts: given
// a path, return bytes and a stable digest. The engine assumes nothing about
// filesystem layout beyond this.
type ContentSource interface {
	Read(path string) ([]byte, error)
	Digest(path string) (string, error)
}

// FileSource reads artifacts relative to a root directory.
type FileSource struct {
	root string
}

func NewFileSource(root string) *FileSource {
	return &FileSource{root: root}
}

func (s *FileSource) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return nil, &ErrContentUnavailable{Path: path, Err: err}
	}
	return data, nil
}

func (s *FileSource) Digest(path string) (string, error) {
	data, err := s.Read(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

func (s *FileSource) resolve(path string) string {
	if filepath.IsAbs(path) || s.root == "" {
		return path
	}
	return filepath.Join(s.root, path)
}

// HashBytes returns the hex-encoded SHA-256 digest of content. Identical
// bytes always produce the identical digest.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IsRef reports whether an input value names a content source artifact.
func IsRef(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, Scheme) {
		return "", false
	}
	return strings.TrimPrefix(s, Scheme), true
}
