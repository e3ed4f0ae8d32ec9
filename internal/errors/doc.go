// Package errors defines the error values mcpd distinguishes.
//
// Per-request failures are mapped to JSON-RPC errors by the server package;
// a ConfigError at startup is the only fatal kind. Typed errors wrap an
// underlying cause where one exists and support errors.As/errors.Is.
package errors
