// Package config loads the node options file. Options are YAML, validated
// against an embedded CUE schema, and completed with defaults such as the
// core grains and the sysctl paths.
package config
