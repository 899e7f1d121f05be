// Package database checks the MySQL server Matomo will be installed into.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hairizuan-noorazman/matomo-bootstrap/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// CoreTables are unprefixed Matomo tables whose presence means a previous install ran.
var CoreTables = []string{"option", "user", "site", "access", "log_visit"}

// Config holds connection parameters. The same values are typed into the installer's
// database form.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	TablePrefix  string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN builds the go-sql-driver DSN for cfg.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=5s",
		c.User, c.Password, c.Host, port, c.Database)
}

// Connect opens a MySQL connection pool. It does not wait for the server.
func Connect(cfg Config) (*gorm.DB, error) {
	dialector := mysql.New(mysql.Config{
		DSN:                       cfg.DSN(),
		SkipInitializeWithVersion: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return db, nil
}

// NotReadyError is returned when the database never answered a ping.
type NotReadyError struct {
	Timeout time.Duration
	LastErr error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("database not ready after %s: %v", e.Timeout, e.LastErr)
}

func (e *NotReadyError) Unwrap() error {
	return e.LastErr
}

// Inspector runs read-only checks against the Matomo database.
type Inspector struct {
	db           *gorm.DB
	prefix       string
	pollInterval time.Duration
	logger       logger.Logger
}

// NewInspector creates an inspector for tables named with prefix.
func NewInspector(db *gorm.DB, prefix string, log logger.Logger) *Inspector {
	return &Inspector{
		db:           db,
		prefix:       prefix,
		pollInterval: time.Second,
		logger:       log,
	}
}

// WaitReady pings until the server answers or timeout elapses.
func (i *Inspector) WaitReady(ctx context.Context, timeout time.Duration) error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = sqlDB.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			i.logger.Info(ctx, "database reachable", nil)
			return nil
		}

		i.logger.Debug(ctx, "database ping failed", map[string]interface{}{
			"error": lastErr.Error(),
		})
		if !time.Now().Add(i.pollInterval).Before(deadline) {
			return &NotReadyError{Timeout: timeout, LastErr: lastErr}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.pollInterval):
		}
	}
}

// ExistingTables returns the prefixed core tables that already exist.
func (i *Inspector) ExistingTables(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	migrator := i.db.WithContext(ctx).Migrator()
	var found []string
	for _, t := range CoreTables {
		name := i.prefix + t
		if migrator.HasTable(name) {
			found = append(found, name)
		}
	}

	if len(found) > 0 {
		i.logger.Info(ctx, "existing matomo tables detected", map[string]interface{}{
			"tables": found,
		})
	}
	return found, nil
}
