package database

import (
	"fmt"
	"net/url"
)

// Config holds configuration for the storage engine connection.
type Config struct {
	// Host is the database host.
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the database port.
	Port int `mapstructure:"port" default:"3306"`
	// User is the database user.
	User string `mapstructure:"user" default:"root"`
	// Password is the database password.
	Password string `mapstructure:"password" default:""`
	// Name is the database name.
	Name string `mapstructure:"name" default:"sync_bridge"`
	// Driver selects the storage engine (mysql, sqlite, postgres, memory).
	Driver string `mapstructure:"driver" default:"memory"`
	// Path is the database file for the sqlite driver.
	Path string `mapstructure:"path" default:"sync-bridge.db"`
	// DSN overrides the rendered postgres connection string when set.
	DSN string `mapstructure:"dsn" default:""`
	// TimeoutSeconds bounds connection setup and I/O for the mysql driver.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

const (
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// IsValidDriver checks if the configured driver is valid.
func (c Config) IsValidDriver() bool {
	switch c.Driver {
	case DriverMySQL, DriverSQLite, DriverPostgres, DriverMemory:
		return true
	default:
		return false
	}
}

// PostgresDSN renders the lib/pq connection string from the host settings.
// A non-empty DSN field wins, so deployments with TLS or pgbouncer options
// can pass the full string through.
func (c Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	userInfo := url.UserPassword(c.User, c.Password).String()
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=disable", userInfo, c.Host, c.Port, c.Name)
}
