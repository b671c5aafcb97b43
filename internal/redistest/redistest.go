// Package redistest starts an in-memory Redis for package tests.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Start runs a miniredis server and returns it with a connected client. Both
// are closed when the test finishes.
func Start(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

// URL returns a redis:// URL for server.
func URL(server *miniredis.Miniredis) string {
	return "redis://" + server.Addr() + "/0"
}
