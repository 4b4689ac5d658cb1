// Package fileid derives paper identifiers.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
)

// PaperID returns the identifier of a paper with the given raw bytes: the hex SHA-256
// of the content, so re-uploading the same file maps to the same paper.
func PaperID(content []byte) string {
	return ContentHash(content)
}

// StructuredSection is the part of a pre-structured section that identifies a paper.
type StructuredSection struct {
	Name string `json:"name"`
	Page int    `json:"page"`
	Text string `json:"text"`
}

// StructuredID returns the identifier of a paper supplied as sections instead of bytes:
// the hex SHA-256 of a canonical JSON encoding of its title and sections. Resubmitting
// the same title and sections maps to the same paper.
func StructuredID(title string, sections []StructuredSection) string {
	if sections == nil {
		sections = []StructuredSection{}
	}
	// marshalling plain strings and ints cannot fail
	canonical, _ := json.Marshal(struct {
		Title    string              `json:"title"`
		Sections []StructuredSection `json:"sections"`
	}{title, sections})
	return ContentHash(canonical)
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SourcePath normalises a watched file path so that create and remove events for the
// same file agree.
func SourcePath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}
