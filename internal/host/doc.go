// Package host is the runtime a worker lives in. It dispatches install and
// fetch events, tracks the worker lifecycle (installing, installed,
// activated, redundant), and exposes the active worker over HTTP so every
// incoming request becomes a fetch event.
package host
