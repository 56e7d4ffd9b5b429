// Package logging wires log/slog for the tool: a console handler with
// aligned key=value output, an optional JSON handler, and file output
// that is strictly best effort. A run must never die because its log
// file did.
package logging
