// Package config loads pipewatch settings from defaults, a YAML file, the
// environment and command line flags.
package config
