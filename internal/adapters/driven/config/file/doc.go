// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML settings file (~/.keapsync/config.toml)
package file
