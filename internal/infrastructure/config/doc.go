// Package config loads service configuration from environment variables
// with envconfig. Every field has a default, so an empty environment yields
// a runnable service with the file store under ./data/addons and the remote
// store disabled.
package config
