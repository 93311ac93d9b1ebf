// Package config loads the YAML service configuration.
package config
