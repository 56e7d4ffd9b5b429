// Package runner drives one maintenance run end to end: array config,
// required tools, instance lock, drive health, change detection, the
// conditional permission backup and sync, scrub, and optional standby.
// Phases run strictly in order; the first classified error aborts the
// rest and bubbles up to the process-level dispatcher untouched.
package runner
