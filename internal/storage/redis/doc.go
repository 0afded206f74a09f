// Package redis opens go-redis clients for the run queue.
package redis
