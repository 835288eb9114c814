// Package permission models the audio capture precondition of a host.
package permission

import (
	"context"
	"sync/atomic"
)

// Gate holds the permission state of one host connection. When permission
// is not required every check passes.
type Gate struct {
	required bool
	granted  atomic.Bool
}

// NewGate creates a gate. With required set the host must call Grant
// (requestPermissions) before a session can start.
func NewGate(required bool) *Gate {
	return &Gate{required: required}
}

// HasPermission reports whether audio capture is allowed.
func (g *Gate) HasPermission(ctx context.Context) bool {
	if !g.required {
		return true
	}
	return g.granted.Load()
}

// Grant records that the host granted audio capture and returns the new state.
func (g *Gate) Grant() bool {
	g.granted.Store(true)
	return true
}

// Required reports whether an explicit grant is needed.
func (g *Gate) Required() bool {
	return g.required
}
