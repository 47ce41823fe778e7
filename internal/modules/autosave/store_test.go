package autosave

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextconvert/editor/internal/modules/edit"
	"github.com/nextconvert/editor/internal/shared/database"
)

func sampleRecord(projectID string) Record {
	params := edit.DefaultParameters(120)
	params.Filters[edit.FilterSepia] = 30
	params.Trim = edit.Trim{StartTime: 5, EndTime: 60}
	return Record{
		ProjectID:      projectID,
		Timestamp:      time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond),
		Parameters:     params,
		ActiveEditMode: "filters",
	}
}

func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save then load", func(t *testing.T) {
		rec := sampleRecord("p1")
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Load(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", got.ProjectID)
		assert.Equal(t, CurrentVersion, got.Version)
		assert.Equal(t, "filters", got.ActiveEditMode)
		assert.Equal(t, 30.0, got.Parameters.Filters[edit.FilterSepia])
		assert.Equal(t, edit.Trim{StartTime: 5, EndTime: 60}, got.Parameters.Trim)
		assert.True(t, rec.Timestamp.Equal(got.Timestamp))
	})

	t.Run("save overwrites", func(t *testing.T) {
		rec := sampleRecord("p1")
		rec.ActiveEditMode = "crop"
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Load(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "crop", got.ActiveEditMode)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "p1"))
		_, err := store.Load(ctx, "p1")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, store.Delete(ctx, "never-saved"))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "autosave.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runStoreContract(t, NewSQLiteStore(db.DB))
}

func TestMemoryStoreFailure(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith = errors.New("quota exceeded")

	err := store.Save(context.Background(), sampleRecord("p"))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
	assert.Equal(t, "memory", perr.Backend)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		newer   bool
	}{
		{"current version", `{"projectId":"p","version":1,"parameters":{"aspectRatio":"original"}}`, false, false},
		{"missing version defaults", `{"projectId":"p","parameters":{}}`, false, false},
		{"newer version", `{"projectId":"p","version":2}`, true, true},
		{"not json", `{`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Decode([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.newer, errors.Is(err, ErrNewerVersion))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, CurrentVersion, rec.Version)
			assert.NotNil(t, rec.Parameters.Filters)
			assert.NotNil(t, rec.Parameters.Subtitles)
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "videoeditor_autosave:abc", Key("abc"))
}
