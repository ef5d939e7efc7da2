package device

import (
	"context"
	"sync"

	"accelrt/pkg/types"
)

// Pending correlates one posted inference to its later wait. It carries the
// daemon cookie and the group's semaphore slot; the slot is released exactly
// once, when Wait completes (successfully or not).
type Pending struct {
	g      *Group
	cookie uint64
	once   sync.Once
}

// Cookie returns the daemon's correlation token.
func (p *Pending) Cookie() uint64 { return p.cookie }

// Wait blocks until the daemon completes the posted inference and copies
// its outputs out. The cookie is single-use: a second Wait surfaces the
// daemon's unknown-cookie error.
func (p *Pending) Wait(ctx context.Context, outputs []types.Tensor) error {
	defer p.release()
	return p.g.client.InferWait(ctx, p.cookie, outputs)
}

func (p *Pending) release() {
	p.once.Do(func() { <-p.g.inferSem })
}
