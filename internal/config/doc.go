// Package config provides configuration loading and validation for the voice
// archive service. Configuration is YAML with ${VAR} references expanded from
// the environment, which is optionally seeded from a .env file. Every section
// has a Validate method and seconds-valued fields have duration helpers.
package config
