// Package server holds the HTTP server configuration.
//
// While the main application entry point handles the server startup, this package
// defines the configuration structure for the HTTP listener so that core/config
// can embed it without importing Fiber.
//
// # Configuration
//
// The Config struct defines the HTTP port and the API key. An empty API key
// disables authentication, which is the expected setup for local development
// against the in-memory engine.
//
// # Usage
//
// This package is primarily used by the core/config package to embed server settings
// and by cmd/serve.go to build the listen address.
package server
