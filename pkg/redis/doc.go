// Package redis provides connection helpers for Redis built on
// github.com/redis/go-redis/v9.
//
// Connect dials a Redis server from a Config populated through environment
// variables, retrying until the server becomes available or the configured
// timeout expires. Healthcheck returns a probe function suitable for health
// endpoints.
package redis
