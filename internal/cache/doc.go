// Package cache provides the named cache storage that the worker pre-caches
// assets into. A Storage hands out Cache handles by name; each Cache is backed
// by a Store (in-memory LRU, zstd-compressed disk files, or SQLite) that
// commits bulk writes atomically.
package cache
