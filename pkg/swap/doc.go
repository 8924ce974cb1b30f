// Package swap implements the append-only overflow log that absorbs
// finished task records once the in-memory ceiling is exceeded.
//
// This package contains:
//   - Log: durable, length-prefixed batch appends over one backing file
//   - Scanner: restartable forward-only iteration for lookups
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package swap
