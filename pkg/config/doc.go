// Package config loads the sync agent's YAML configuration with
// built-in defaults for everything except the remote API base URL.
package config
