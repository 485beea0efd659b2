// Package utils provides common utility functions shared across the daemon.
// It includes loose-typed conversion helpers used where values arrive with
// unknown dynamic types, such as JSON request bodies and query parameters.
package utils
