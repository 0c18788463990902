// Package config loads kcore configuration from JSON files.
//
// Values are resolved in three layers: built-in defaults, the JSON file and
// finally KCORE_* environment variables.
package config
