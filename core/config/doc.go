// Package config provides configuration management for the sync daemon.
//
// It utilizes Viper for loading configuration from environment variables,
// the .env file, and config files (config.yaml).
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP server settings (port, API key)
//   - Database: storage engine selection and connection details
//   - Mirror: page size, echo window, await timeout, poll interval
//   - Collections: the list of mirrored tables (config file only)
//   - Log: logging level and format
//
// Scalar settings bind to environment variables through their nested key
// (SERVER_PORT, DATABASE_DRIVER, MIRROR_PAGE_SIZE). The collections list has
// no flat env form and is read from config.yaml.
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
