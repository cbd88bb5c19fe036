package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/DragonSenseiGuy/dragon-bot/quota"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion, stored in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// AdminCredential holds the username and argon2id password hash
// used to authenticate against the admin API. Only one row is kept.
type AdminCredential struct {
	ModelUintID
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	ModelUnixTime
}

// migrate creates or updates the tables for every persisted model
func migrate(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if txn.Error != nil {
		return fmt.Errorf("error starting transaction: %w", txn.Error)
	}

	err := txn.Migrator().AutoMigrate(
		&InteractionLog{},
		&Superstar{},
		&AdminCredential{},
		&quota.Record{},
	)
	if err != nil {
		txn.Rollback()
		return fmt.Errorf("error migrating database: %w", err)
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

// openDB connects to the given database, applies the sqlite connection
// settings when applicable, and migrates it.
func openDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("error getting database connection: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	if err = migrate(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateDB opens (creating, if needed) and migrates the database,
// returning the connection.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(slog.LevelWarn)
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)

	slog.New(handler).InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	return openDB(ctx, databaseType, database, gormLogger)
}

func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// SetAdminCredentials stores the admin username and password hash,
// replacing any existing credentials.
func SetAdminCredentials(
	ctx context.Context,
	db *gorm.DB,
	username string,
	password string,
) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	defer cancel()

	return db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			if err := tx.Unscoped().Where("1 = 1").Delete(&AdminCredential{}).Error; err != nil {
				return err
			}
			return tx.Create(
				&AdminCredential{
					Username:     username,
					PasswordHash: hash,
				},
			).Error
		},
	)
}

// getAdminCredential returns the stored admin credential, or
// gorm.ErrRecordNotFound if none has been set
func getAdminCredential(ctx context.Context, db *gorm.DB) (*AdminCredential, error) {
	var cred AdminCredential
	if err := db.WithContext(ctx).Take(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

// AdminCredentialsSet reports whether admin credentials have been stored
func AdminCredentialsSet(ctx context.Context, db *gorm.DB) (bool, error) {
	_, err := getAdminCredential(ctx, db)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}
