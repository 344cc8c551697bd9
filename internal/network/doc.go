// Package network is the live-fetch layer used for asset pre-caching and for
// cache misses. It resolves paths against a fixed origin and paces outgoing
// requests with a token-bucket limiter.
package network
