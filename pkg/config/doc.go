// Package config loads the YAML configuration, applies MYGRAM_-prefixed
// environment overrides, validates it, and renders display copies with
// secret values masked.
package config
