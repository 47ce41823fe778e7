package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextconvert/editor/internal/shared/config"
)

// Zone is a storage area with its own retention
type Zone string

const (
	ZoneUpload  Zone = "upload"  // sources sessions are opened on
	ZoneWorking Zone = "working" // per-family commit artifacts and thumbnails
	ZoneOutput  Zone = "output"  // finished exports
)

// Retention returns how long files in the zone are expected to live
func (z Zone) Retention() time.Duration {
	switch z {
	case ZoneUpload:
		return 24 * time.Hour
	case ZoneWorking:
		return 4 * time.Hour
	case ZoneOutput:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether z is a known zone
func (z Zone) Valid() bool {
	return z.Retention() > 0
}

// FileInfo represents metadata about a stored file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Zone      Zone      `json:"zone"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Object is one stored file as reported by a backend listing
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Backend defines the storage backend interface
type Backend interface {
	Store(ctx context.Context, zone Zone, filename, contentType string, reader io.Reader) (string, error)
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (*Object, error)
	List(ctx context.Context, zone Zone) ([]Object, error)
	// Lookup finds the file stored in zone under fileID, whatever its
	// extension. It returns nil without error when there is none.
	Lookup(ctx context.Context, zone Zone, fileID string) (*Object, error)
}

// ErrFileNotFound is returned by Locate for unknown file ids
var ErrFileNotFound = errors.New("file not found")

// Service provides file storage operations over a backend
type Service struct {
	backend Backend
}

// NewService creates a new storage service
func NewService(cfg config.StorageConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(cfg)
	case "local", "":
		backend, err = NewLocalBackend(cfg.BasePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &Service{backend: backend}, nil
}

// ContentTypeFor maps the media extensions the editor produces and accepts
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".gif":
		return "image/gif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}

// Store saves reader into zone under a fresh id, keeping the extension of
// originalName
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, reader io.Reader) (*FileInfo, error) {
	fileID := uuid.New().String()
	filename := fileID + strings.ToLower(filepath.Ext(originalName))
	contentType := ContentTypeFor(filename)

	path, err := s.backend.Store(ctx, zone, filename, contentType, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	obj, err := s.backend.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat stored file: %w", err)
	}

	now := time.Now()
	return &FileInfo{
		ID:        fileID,
		Name:      originalName,
		Path:      path,
		Zone:      zone,
		Size:      obj.Size,
		MimeType:  contentType,
		CreatedAt: now,
		ExpiresAt: now.Add(zone.Retention()),
	}, nil
}

// StoreFile uploads a local file into zone, keeping its extension
func (s *Service) StoreFile(ctx context.Context, zone Zone, localPath string) (*FileInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	defer f.Close()

	return s.Store(ctx, zone, filepath.Base(localPath), f)
}

// Locate resolves an id returned by Store to its stored file. Only ids
// minted by Store are accepted, so callers cannot name arbitrary paths.
func (s *Service) Locate(ctx context.Context, zone Zone, fileID string) (*FileInfo, error) {
	if _, err := uuid.Parse(fileID); err != nil || !zone.Valid() {
		return nil, ErrFileNotFound
	}

	obj, err := s.backend.Lookup(ctx, zone, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up file %s: %w", fileID, err)
	}
	if obj == nil {
		return nil, ErrFileNotFound
	}

	return &FileInfo{
		ID:        fileID,
		Name:      filepath.Base(obj.Path),
		Path:      obj.Path,
		Zone:      zone,
		Size:      obj.Size,
		MimeType:  ContentTypeFor(obj.Path),
		CreatedAt: obj.ModTime,
		ExpiresAt: obj.ModTime.Add(zone.Retention()),
	}, nil
}

// Retrieve gets a file from storage
func (s *Service) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.backend.Retrieve(ctx, path)
}

// Delete removes a file from storage
func (s *Service) Delete(ctx context.Context, path string) error {
	return s.backend.Delete(ctx, path)
}

// Exists checks if a file exists
func (s *Service) Exists(ctx context.Context, path string) (bool, error) {
	obj, err := s.backend.Stat(ctx, path)
	if err != nil {
		return false, err
	}
	return obj != nil, nil
}

// Move copies a file into destZone and removes the source. The source is
// kept when the copy fails.
func (s *Service) Move(ctx context.Context, srcPath string, destZone Zone, destName string) (*FileInfo, error) {
	reader, err := s.backend.Retrieve(ctx, srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	info, err := s.Store(ctx, destZone, destName, reader)
	reader.Close()
	if err != nil {
		return nil, err
	}

	if err := s.backend.Delete(ctx, srcPath); err != nil {
		return info, fmt.Errorf("moved but failed to delete source: %w", err)
	}
	return info, nil
}

// CleanupZone deletes files in zone last modified before now-olderThan and
// returns how many were removed
func (s *Service) CleanupZone(ctx context.Context, zone Zone, olderThan time.Duration) (int, error) {
	objects, err := s.backend.List(ctx, zone)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s zone: %w", zone, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.backend.Delete(ctx, obj.Path); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", obj.Path, err)
		}
		removed++
	}
	return removed, nil
}

// IsLocal reports whether stored paths are directly readable files
func (s *Service) IsLocal() bool {
	_, ok := s.backend.(*LocalBackend)
	return ok
}

// PrepareInputForProcessing returns a local file path for a storage path.
// Remote objects are downloaded into dir; cleanup removes the copy.
func (s *Service) PrepareInputForProcessing(ctx context.Context, storagePath, dir string) (string, func(), error) {
	if s.IsLocal() {
		return storagePath, func() {}, nil
	}

	reader, err := s.backend.Retrieve(ctx, storagePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to retrieve input: %w", err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(dir, "temp_input_*"+filepath.Ext(storagePath))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp input: %w", err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to download input: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("failed to write temp input: %w", err)
	}

	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

// DownloadURL returns a presigned URL for remote backends, or "" for local files
func (s *Service) DownloadURL(ctx context.Context, storagePath string, expiry time.Duration) (string, error) {
	if b, ok := s.backend.(*S3Backend); ok {
		return b.PresignDownloadURL(ctx, storagePath, expiry)
	}
	return "", nil
}

// LocalBackend keeps zones as directories under a base path
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates the zone directories under basePath
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	for _, zone := range []Zone{ZoneUpload, ZoneWorking, ZoneOutput} {
		path := filepath.Join(basePath, string(zone))
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return &LocalBackend{basePath: basePath}, nil
}

// Store writes through a temp file so readers and sweeps never see a
// partial file
func (b *LocalBackend) Store(ctx context.Context, zone Zone, filename, _ string, reader io.Reader) (string, error) {
	dir := filepath.Join(b.basePath, string(zone))
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	path := filepath.Join(dir, filename)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

func (b *LocalBackend) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	return os.Remove(path)
}

// Stat returns nil without error for missing files
func (b *LocalBackend) Stat(ctx context.Context, path string) (*Object, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Object{Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (b *LocalBackend) Lookup(ctx context.Context, zone Zone, fileID string) (*Object, error) {
	matches, err := filepath.Glob(filepath.Join(b.basePath, string(zone), fileID+"*"))
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		obj, err := b.Stat(ctx, m)
		if err != nil || obj != nil {
			return obj, err
		}
	}
	return nil, nil
}

func (b *LocalBackend) List(ctx context.Context, zone Zone) ([]Object, error) {
	dir := filepath.Join(b.basePath, string(zone))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		objects = append(objects, Object{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}
