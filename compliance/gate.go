// Package compliance decides whether a user may open new exposure.
package compliance

import (
	"context"
	"sync"
)

// StaticGate permits every user except those explicitly blocked.
type StaticGate struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewStaticGate(blocked ...string) *StaticGate {
	g := &StaticGate{blocked: make(map[string]struct{}, len(blocked))}
	for _, u := range blocked {
		g.blocked[u] = struct{}{}
	}
	return g
}

func (g *StaticGate) Block(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[userID] = struct{}{}
}

func (g *StaticGate) Unblock(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocked, userID)
}

func (g *StaticGate) IsPermitted(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, blocked := g.blocked[userID]
	return !blocked, nil
}
