package services

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const fallbackUploadName = "document.pdf"

// UploadedDocument is a stored upload. It is never mutated after Save.
type UploadedDocument struct {
	ID           string
	OriginalName string
	StoredName   string
	Path         string
	Size         int64
}

// UploadSink writes uploaded PDFs into a single directory under collision-proof names.
type UploadSink struct {
	dir string
}

func NewUploadSink(dir string) *UploadSink {
	return &UploadSink{dir: dir}
}

// Save validates the part and writes it atomically as <32-hex-id>_<sanitized name>.
func (s *UploadSink) Save(fh *multipart.FileHeader) (*UploadedDocument, error) {
	if fh == nil || strings.TrimSpace(fh.Filename) == "" {
		return nil, NewError(KindBadInput, "No file provided")
	}
	if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(fh.Filename), "."), "pdf") {
		return nil, NewError(KindBadInput, "Only PDF files are allowed")
	}

	src, err := fh.Open()
	if err != nil {
		return nil, Wrap(KindBadInput, "Could not read uploaded file", err)
	}
	defer src.Close()

	original := SanitizeFilename(fh.Filename)
	if !strings.HasSuffix(original, ".pdf") {
		original += ".pdf"
	}
	return s.write(original, src)
}

func (s *UploadSink) write(original string, src io.Reader) (*UploadedDocument, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, Wrap(KindStorageFailure, "Failed to save file", err)
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	stored := id + "_" + original
	finalPath := filepath.Join(s.dir, stored)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, Wrap(KindStorageFailure, "Failed to save file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	size, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return nil, Wrap(KindStorageFailure, "Failed to save file", fmt.Errorf("write upload: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, Wrap(KindStorageFailure, "Failed to save file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, Wrap(KindStorageFailure, "Failed to save file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, Wrap(KindStorageFailure, "Failed to save file", err)
	}

	return &UploadedDocument{
		ID:           id,
		OriginalName: original,
		StoredName:   stored,
		Path:         finalPath,
		Size:         size,
	}, nil
}

// SanitizeFilename reduces a client filename to a safe base name: path
// components and control characters are removed, whitespace becomes '_',
// only letters, digits, '.', '-' and '_' survive, and the extension is
// lower-cased.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r) || r == '_':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-'):
			b.WriteRune(r)
		}
		lastUnderscore = false
	}

	cleaned := b.String()
	ext := filepath.Ext(cleaned)
	base := strings.Trim(strings.TrimSuffix(cleaned, ext), "._-")
	if base == "" {
		return fallbackUploadName
	}
	return base + strings.ToLower(ext)
}
