package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "bare address", url: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url with db", url: "redis://cache:6380/2", wantAddr: "cache:6380", wantDB: 2},
		{name: "bad scheme", url: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := RedisOptions(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
			assert.Equal(t, 10, opts.PoolSize)
		})
	}
}

func TestSQLiteMigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "editor.db")

	db, err := NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.HealthCheck(context.Background()))

	var applied int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&applied))
	require.NoError(t, db.Close())

	// Reopening must not reapply migrations
	db, err = NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var again int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&again))
	assert.Equal(t, applied, again)
	assert.Positive(t, applied)
}
