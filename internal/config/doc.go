// Package config loads and validates snapward's TOML configuration.
//
// Configuration is resolved from an explicit path, the per-user default
// location, or the system-wide location, in that order. A missing file is
// not an error; built-in defaults apply. All path fields are expanded and
// absolute after Load returns.
package config
