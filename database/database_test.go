package database

import (
	"context"
	"testing"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"github.com/hairizuan-noorazman/matomo-bootstrap/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "explicit port",
			cfg:  Config{Host: "db", Port: 3307, User: "matomo", Password: "secret", Database: "matomo"},
			want: "matomo:secret@tcp(db:3307)/matomo?charset=utf8mb4&parseTime=True&loc=UTC&timeout=5s",
		},
		{
			name: "default port",
			cfg:  Config{Host: "127.0.0.1", User: "root", Database: "analytics"},
			want: "root:@tcp(127.0.0.1:3306)/analytics?charset=utf8mb4&parseTime=True&loc=UTC&timeout=5s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestInspector_WaitReady(t *testing.T) {
	db := testutil.SetupTestDB(t)
	log := logger.NewTestLogger()

	err := NewInspector(db, "matomo_", log).WaitReady(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, log.Matching("database reachable"), 1)
}

func TestInspector_WaitReadyClosed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	inspector := NewInspector(db, "matomo_", logger.NewTestLogger())
	inspector.pollInterval = 10 * time.Millisecond

	err = inspector.WaitReady(context.Background(), 50*time.Millisecond)
	var nrErr *NotReadyError
	require.ErrorAs(t, err, &nrErr)
	assert.Error(t, nrErr.LastErr)
}

func TestInspector_ExistingTables(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateTables(t, db, "matomo_option", "matomo_site", "other_user")

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{name: "matching prefix", prefix: "matomo_", want: []string{"matomo_option", "matomo_site"}},
		{name: "other prefix", prefix: "other_", want: []string{"other_user"}},
		{name: "fresh prefix", prefix: "fresh_", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewInspector(db, tt.prefix, logger.NewTestLogger()).ExistingTables(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
