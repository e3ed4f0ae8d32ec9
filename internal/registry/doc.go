// Package registry reads and writes the on-disk backend catalogue at
// <config-dir>/mcpd/registry.json.
//
// The file is the single source of truth shared by the CLI and the serving
// daemon. Writes go through a temp-file-plus-rename so concurrent readers
// never observe a torn document, and unknown top-level fields survive a
// load/save round trip.
package registry
