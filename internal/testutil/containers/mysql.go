//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// MySQLContainer wraps a testcontainers MySQL instance with helper methods.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	Database string
	Username string
	Password string
}

// DefaultMySQLConfig returns the config the cache-store integration tests use.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "classboard_test",
		Username: "testuser",
		Password: "testpass",
	}
}

// NewMySQLContainer creates and starts a MySQL container with the given
// config. If config is nil, DefaultMySQLConfig() is used. The container is
// ready for connections when this returns.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	opts := []testcontainers.ContainerCustomizer{
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	}

	mysqlContainer, err := mysql.RunContainer(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	connStr, err := mysqlContainer.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		// Background context so cleanup succeeds even if the parent expired.
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("mysql", connStr)
	if err != nil {
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = mysqlContainer.Terminate(context.Background())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLContainer{
		container: mysqlContainer,
		db:        db,
		dsn:       connStr,
	}, nil
}

// DSN returns the MySQL connection string for the container.
func (c *MySQLContainer) DSN() string {
	return c.dsn
}

// DB returns the raw database connection. Shared across tests in the same
// package; individual tests must not close it.
func (c *MySQLContainer) DB(t *testing.T) *sql.DB {
	t.Helper()
	if c.db == nil {
		t.Fatal("database connection is nil")
	}
	return c.db
}

// Truncate empties the given tables between tests.
func (c *MySQLContainer) Truncate(ctx context.Context, tables ...string) error {
	if c.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	for _, table := range tables {
		if _, err := c.db.ExecContext(ctx, "TRUNCATE TABLE `"+table+"`"); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			fmt.Printf("Warning: failed to close database connection: %v\n", err)
		}
		c.db = nil
	}
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}
