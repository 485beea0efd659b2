package config

import (
	"errors"
	"reflect"
	"strings"

	"sync-bridge/core/database"
	"sync-bridge/core/logger"
	"sync-bridge/core/server"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the storage engine connection.
	Database database.Config `mapstructure:"database"`
	// Mirror holds the sync tuning knobs shared by every session.
	Mirror Mirror `mapstructure:"mirror"`
	// Collections lists the tables to mirror. Slices cannot be expressed
	// through flat environment variables, so this section comes from the
	// config file only.
	Collections []Collection `mapstructure:"collections"`
}

// Mirror holds the tuning knobs for the sync sessions.
type Mirror struct {
	// PageSize is the number of rows fetched per page during loads.
	PageSize int `mapstructure:"page_size" default:"1000"`
	// SuppressionWindowMS is the echo suppression window in milliseconds.
	SuppressionWindowMS int `mapstructure:"suppression_window_ms" default:"2000"`
	// TTLMS is the echo entry time-to-live in milliseconds.
	TTLMS int `mapstructure:"ttl_ms" default:"60000"`
	// AwaitTimeoutMS is the default await timeout in milliseconds.
	AwaitTimeoutMS int `mapstructure:"await_timeout_ms" default:"5000"`
	// PollIntervalMS is the live-query poll interval in milliseconds.
	PollIntervalMS int `mapstructure:"poll_interval_ms" default:"500"`
}

// Collection describes one mirrored table.
type Collection struct {
	// Table is the logical table name.
	Table string `mapstructure:"table"`
	// UpdateMode selects how updates are written (replace, merge).
	// Empty means replace.
	UpdateMode string `mapstructure:"update_mode"`
	// SchemaFile optionally points at a JSON schema; rows failing it are
	// skipped during load and mutation.
	SchemaFile string `mapstructure:"schema_file"`
}

// LoadConfig loads configuration from the config file, environment variables
// and the .env file. Precedence is env over file over struct-tag defaults.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env file if it exists
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	// 2. Read config.yaml when present; it is the only way to configure
	// the collections list.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Map environment variables to nested keys (e.g. SERVER_PORT -> server.port)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	// If it's a pointer, get the element
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Skip if no tag
		if tag == "" {
			continue
		}

		// Build the key
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		// If it's a nested struct, recurse
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Slices (the collections list) have no flat env form; leave them
		// to the config file.
		if field.Type.Kind() == reflect.Slice {
			continue
		}

		defaultValue := field.Tag.Get("default")
		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, defaultValue)
	}
}
