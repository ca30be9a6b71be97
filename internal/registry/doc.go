// Package registry is the catalog of compiled-in plugins.
//
// Packages under modules/ implement Module and add their factories to a
// Registry at startup, keyed by plugin tag ("module", "states", "matchers",
// "utils"). The app layer then hands each tag's factories to the loader for
// that tag, where they take the lowest precedence: any on-disk plugin with
// the same name shadows them.
package registry
