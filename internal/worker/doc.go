// Package worker is the offline worker for the plant health app: it
// pre-caches a fixed asset list on install and answers fetches cache-first,
// falling back to the network without writing misses back.
package worker
