//go:build !deadlock

// Package syncutil provides mutex types used to serialize access to claim state and transport sessions.
// Build with -tags=deadlock to detect lock ordering problems via github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}
