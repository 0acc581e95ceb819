// Package media persists downloaded binary payloads to a fixed directory and
// exposes them for retrieval under /media/<filename>.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested media file does not exist.
	ErrNotFound = errors.New("media file not found")
	// ErrPathTraversal indicates a retrieval filename attempted to escape
	// the media directory.
	ErrPathTraversal = errors.New("path traversal is forbidden")
	// ErrTooLarge indicates the payload exceeds the configured max size.
	ErrTooLarge = errors.New("media payload too large")
)

// URLPrefix is the public retrieval path prefix for persisted files.
const URLPrefix = "/media/"

// Reference describes one persisted media payload. It is created at
// normalization time and never mutated. Error marks a failed download or
// write; the owning event is still forwarded so the backend can observe the
// failure per message.
type Reference struct {
	Filename    string `json:"filename,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	URLPath     string `json:"url,omitempty"`
	Mime        string `json:"mime,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failed returns a Reference carrying only an error marker.
func Failed(err error) Reference {
	return Reference{Error: err.Error()}
}

// Store writes media payloads into a single directory with
// collision-resistant generated filenames.
type Store struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(log *slog.Logger, dir string, maxBytes int64) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 64 * 1024 * 1024
	}
	return &Store{
		dir:      abs,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("component", "media")),
	}, nil
}

// Dir returns the absolute media directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxBytes returns the configured payload size cap.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Persist writes raw bytes under a generated filename and returns the
// reference. Filenames combine the current time, a random suffix, and the
// extension resolved from the declared MIME type, so concurrent writes never
// collide.
func (s *Store) Persist(data []byte, declaredMime string) (Reference, error) {
	if len(data) == 0 {
		return Reference{}, fmt.Errorf("media payload is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return Reference{}, fmt.Errorf("%w: max %d bytes", ErrTooLarge, s.maxBytes)
	}
	name := fmt.Sprintf("%d-%s%s",
		time.Now().UnixMilli(),
		uuid.NewString()[:8],
		ExtensionFromMime(declaredMime),
	)
	dest := filepath.Join(s.dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return Reference{}, fmt.Errorf("write media file: %w", err)
	}
	s.logger.Debug("media persisted",
		slog.String("filename", name),
		slog.Int("size", len(data)),
	)
	return Reference{
		Filename:    name,
		StoragePath: dest,
		URLPath:     URLPrefix + name,
		Mime:        declaredMime,
		SizeBytes:   int64(len(data)),
	}, nil
}

// Resolve maps a retrieval filename to its absolute path. Any filename whose
// resolved path escapes the media directory is rejected before file access.
func (s *Store) Resolve(filename string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(filename))
	if clean == "" || clean == "." || filepath.IsAbs(clean) ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		strings.ContainsRune(clean, filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, filename)
	}
	dest := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(dest, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, filename)
	}
	if _, err := os.Stat(dest); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return "", fmt.Errorf("stat media file: %w", err)
	}
	return dest, nil
}

// ExtensionFromMime resolves a file extension for the declared MIME type,
// falling back to a generic binary extension.
func ExtensionFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/3gpp":
		return ".3gp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
