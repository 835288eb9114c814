package session

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out session and engine invocation identifiers.
type IDGenerator struct {
	counter uint64
}

// NewIDGenerator creates a generator with a zeroed invocation counter.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// NewSession returns a random session ID.
func (g *IDGenerator) NewSession() string {
	return uuid.NewString()
}

// NextInvocation returns a unique invocation ID scoped to sessionID.
func (g *IDGenerator) NextInvocation(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-inv-%d", sessionID, n)
}
