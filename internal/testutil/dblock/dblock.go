// Package dblock serializes database-backed tests across packages. The
// repository and idempotency suites truncate the same tables, so running
// them in parallel against one DATABASE_URL corrupts each other's fixtures.
package dblock

import (
	"net"
	"time"
)

// A loopback listener doubles as a cross-process mutex: only one test
// process can bind the port at a time.
const lockAddr = "127.0.0.1:45433"

// Acquire blocks until the lock is free and returns its release func.
func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
