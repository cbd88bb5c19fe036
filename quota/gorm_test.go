package quota

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "quota.sqlite3")
	db, err := gorm.Open(
		sqlite.Open(dbPath),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func TestGormStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)

	store := NewGormStore(db, "ai")
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	require.NoError(t, store.Save(ctx, State{Date: "2024-06-01", Count: 1}))
	require.NoError(t, store.Save(ctx, State{Date: "2024-06-01", Count: 2}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Date: "2024-06-01", Count: 2}, got)

	var rows int64
	require.NoError(t, db.Model(&Record{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows, "save should upsert a single row")
}

func TestGormStore_SeparateNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := setupTestDB(t)

	images := NewGormStore(db, "images")
	chat := NewGormStore(db, "chat")

	require.NoError(t, images.Save(ctx, State{Date: "2024-06-01", Count: 4}))

	_, err := chat.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	got, err := images.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)
}

func TestGormStore_Counter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewGormStore(setupTestDB(t), "")

	c, setDay := newTestCounter(t, store, 3, "2024-06-01")
	allowed := 0
	for i := 0; i < 5; i++ {
		ok, err := c.CheckAndIncrement(ctx)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)

	setDay("2024-06-02")
	ok, err := c.CheckAndIncrement(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Date: "2024-06-02", Count: 1}, got)
}
