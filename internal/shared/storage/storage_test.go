package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextconvert/editor/internal/shared/config"
)

func newLocalService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.StorageConfig{Backend: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	return svc
}

func TestLocalStoreAndRetrieve(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	info, err := svc.Store(ctx, ZoneUpload, "clip.mp4", strings.NewReader("video bytes"))
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(info.Path))
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "clip.mp4", info.Name)

	r, err := svc.Retrieve(ctx, info.Path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))

	moved, err := svc.Move(ctx, info.Path, ZoneOutput, "final.mp4")
	require.NoError(t, err)
	exists, err := svc.Exists(ctx, info.Path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Contains(t, moved.Path, string(ZoneOutput))
}

func TestPrepareInputForProcessingLocal(t *testing.T) {
	svc := newLocalService(t)
	assert.True(t, svc.IsLocal())

	path, cleanup, err := svc.PrepareInputForProcessing(context.Background(), "/data/source.mp4", t.TempDir())
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, "/data/source.mp4", path)

	url, err := svc.DownloadURL(context.Background(), "/data/source.mp4", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestStoreFile(t *testing.T) {
	svc := newLocalService(t)

	local := filepath.Join(t.TempDir(), "output_crop_1.webm")
	require.NoError(t, os.WriteFile(local, []byte("webm"), 0644))

	info, err := svc.StoreFile(context.Background(), ZoneWorking, local)
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(info.Path))
	assert.FileExists(t, info.Path)
}

func TestCleanupZone(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	old, err := svc.Store(ctx, ZoneWorking, "old.mp4", strings.NewReader("old"))
	require.NoError(t, err)
	fresh, err := svc.Store(ctx, ZoneWorking, "fresh.mp4", strings.NewReader("fresh"))
	require.NoError(t, err)
	upload, err := svc.Store(ctx, ZoneUpload, "upload.mp4", strings.NewReader("upload"))
	require.NoError(t, err)

	past := time.Now().Add(-6 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))
	require.NoError(t, os.Chtimes(upload.Path, past, past))

	removed, err := svc.CleanupZone(ctx, ZoneWorking, 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old.Path)
	assert.FileExists(t, fresh.Path)
	assert.FileExists(t, upload.Path)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"output_crop_1.MP4", "video/mp4"},
		{"export.webm", "video/webm"},
		{"export.gif", "image/gif"},
		{"thumb.jpg", "image/jpeg"},
		{"subs.srt", "application/x-subrip"},
		{"unknown.bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeFor(tt.name), tt.name)
	}
}

func TestStoreRecordsZoneMetadata(t *testing.T) {
	svc := newLocalService(t)

	info, err := svc.Store(context.Background(), ZoneOutput, "Export.WEBM", strings.NewReader("webm"))
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(info.Path))
	assert.Equal(t, "video/webm", info.MimeType)
	assert.Equal(t, ZoneOutput, info.Zone)
	assert.WithinDuration(t, info.CreatedAt.Add(7*24*time.Hour), info.ExpiresAt, time.Second)

	entries, err := os.ReadDir(filepath.Dir(info.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partial files left behind")
}

func TestZoneValid(t *testing.T) {
	assert.True(t, ZoneWorking.Valid())
	assert.False(t, Zone("tmp").Valid())
}

func TestNewServiceRejectsUnknownBackend(t *testing.T) {
	_, err := NewService(config.StorageConfig{Backend: "ftp", BasePath: t.TempDir()})
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	svc := newLocalService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, ZoneUpload, "clip.MOV", strings.NewReader("mov bytes"))
	require.NoError(t, err)

	found, err := svc.Locate(ctx, ZoneUpload, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Path, found.Path)
	assert.Equal(t, "video/quicktime", found.MimeType)
	assert.Equal(t, int64(9), found.Size)

	tests := []struct {
		name   string
		zone   Zone
		fileID string
	}{
		{"other zone", ZoneOutput, stored.ID},
		{"unknown id", ZoneUpload, "5b0c8c3e-8f0a-4c51-9a56-0f8f4f3b2d11"},
		{"host path", ZoneUpload, "/etc/passwd"},
		{"traversal", ZoneUpload, "../" + stored.ID},
		{"url", ZoneUpload, "http://169.254.169.254/latest/meta-data"},
		{"glob", ZoneUpload, "*"},
		{"unknown zone", Zone("tmp"), stored.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Locate(ctx, tt.zone, tt.fileID)
			assert.ErrorIs(t, err, ErrFileNotFound)
		})
	}
}
