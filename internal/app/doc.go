// Package app wires the options file, the built-in catalog and one lazy
// registry per plugin kind into a single application, decoupled from any
// specific entrypoint like a CLI or server. It owns the lock serializing
// registry access between the CLI, the watcher and the health endpoint.
package app
