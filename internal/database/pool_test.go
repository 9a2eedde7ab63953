package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, config, manager.config)
	assert.Equal(t, "postgres", manager.name)
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_Rejects(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()
	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 2, MaxIdleConns: 5}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryTransaction_RetriesDeadlock(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := RetryTransaction(context.Background(), gormDB, 3, zap.NewNop(), func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryTransaction_NonRetryable(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := RetryTransaction(context.Background(), gormDB, 3, nil, func(tx *gorm.DB) error {
		attempts++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.Error(t, manager.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	_ = mockDB
}

func TestPoolManager_HealthCheckLoopStopsOnClose(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectPing()
	manager, err := NewPoolManager(gormDB, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	mock.ExpectClose()
	done := make(chan struct{})
	go func() {
		_ = manager.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the health check loop")
	}
	_ = mockDB
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
		},
		{name: "defaults", config: DefaultPoolConfig()},
		{name: "unlimited open", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}},
		{name: "negative open", config: PoolConfig{MaxOpenConns: -1}, wantErr: true},
		{name: "negative idle", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: -1}, wantErr: true},
		{name: "idle > open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
		{name: "negative interval", config: PoolConfig{HealthCheckInterval: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("deadlock detected"), true},
		{errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver   string
		name     string
		wantName string
		wantErr  bool
	}{
		{driver: "postgres", name: "db", wantName: "postgres"},
		{driver: "mysql", name: "db", wantName: "mysql"},
		{driver: "sqlite", name: "/tmp/orchestrator.db", wantName: "sqlite"},
		{driver: "sqlite", name: "", wantErr: true},
		{driver: "", wantErr: true},
		{driver: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.name, func(t *testing.T) {
			d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Name: tt.name})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.Name())
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{Driver: "postgres", MaxOpenConns: 8, MaxIdleConns: 20, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 8, pc.MaxOpenConns)
	assert.Equal(t, 8, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
	require.NoError(t, pc.Validate())

	sqlitePC := PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", MaxOpenConns: 8})
	assert.Equal(t, 1, sqlitePC.MaxOpenConns)
	assert.Equal(t, 1, sqlitePC.MaxIdleConns)
}

func TestGormConfig(t *testing.T) {
	cfg := GormConfig()
	assert.True(t, cfg.TranslateError)
	assert.Equal(t, time.UTC, cfg.NowFunc().Location())
}
