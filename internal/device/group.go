// Package device owns one daemon-side execution group: its loaded models,
// the single-running-model constraint, and the synchronous and split
// inference protocols.
package device

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"accelrt/internal/rtclient"
	"accelrt/pkg/types"
)

// invalidModelID marks "no model running".
const invalidModelID = ^uint32(0)

// defaultMaxInflight bounds outstanding posts per group when the caller
// does not configure a limit.
const defaultMaxInflight = 4

// Group is one execution group. All state transitions are serialized by the
// group lock; synchronous inference holds it for the whole round trip.
type Group struct {
	mu     sync.Mutex
	client *rtclient.Client
	log    zerolog.Logger

	egID    uint32
	cores   uint32
	created bool
	loaded  map[uint32]struct{}
	running uint32

	// inferSem bounds outstanding asynchronous posts without a matching
	// wait. Acquired on post, released when the Pending is waited.
	inferSem chan struct{}
}

// New returns a group bound to client. maxInflight bounds outstanding
// asynchronous inferences; zero or negative selects the default.
func New(client *rtclient.Client, log zerolog.Logger, maxInflight int) *Group {
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	return &Group{
		client:   client,
		log:      log,
		loaded:   make(map[uint32]struct{}),
		running:  invalidModelID,
		inferSem: make(chan struct{}, maxInflight),
	}
}

// Initialize reserves the daemon-side execution group. requestedCores < 0
// asks for the daemon default.
func (g *Group) Initialize(ctx context.Context, requestedCores int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	egID, cores, err := g.client.CreateEG(ctx, requestedCores)
	if err != nil {
		return err
	}
	g.egID = egID
	g.cores = cores
	g.created = true
	g.running = invalidModelID
	g.log.Debug().Uint32("eg", egID).Uint32("cores", cores).Msg("execution group created")
	return nil
}

// Cores returns the core count the daemon actually reserved.
func (g *Group) Cores() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cores
}

// NumLoaded returns the number of models currently loaded on this group.
func (g *Group) NumLoaded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.loaded)
}

// Load streams an executable to the daemon and records the returned model
// id in the loaded set. Run state is unchanged.
func (g *Group) Load(ctx context.Context, executable []byte, timeoutSec, maxInfer uint32) (uint32, error) {
	g.mu.Lock()
	if !g.created {
		g.mu.Unlock()
		return 0, notInitializedError{}
	}
	egID := g.egID
	g.mu.Unlock()

	nn, err := g.client.Load(ctx, egID, executable, timeoutSec, maxInfer)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.loaded[nn] = struct{}{}
	g.mu.Unlock()
	return nn, nil
}

// ensureStarted makes nn the running model, issuing at most one stop (for a
// different running model) and one start. Caller must hold g.mu.
func (g *Group) ensureStarted(ctx context.Context, nn uint32) error {
	if !g.created {
		return notInitializedError{}
	}
	if _, ok := g.loaded[nn]; !ok {
		return modelNotLoadedError{nn: nn}
	}
	if g.running != invalidModelID && g.running != nn {
		if err := g.client.Stop(ctx, g.running); err != nil {
			return err
		}
		g.running = invalidModelID
		modelSwitches.Inc()
	}
	if g.running == invalidModelID {
		if err := g.client.Start(ctx, nn); err != nil {
			return err
		}
		g.running = nn
	}
	return nil
}

// Infer runs one synchronous inference. The group lock is held for the full
// round trip, totally ordering synchronous inference and model switches on
// this group. Shared-memory buffers in set, if any, must not be raced by
// concurrent callers.
func (g *Group) Infer(ctx context.Context, nn uint32, inputs, outputs []types.Tensor, set *rtclient.ShmSet) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureStarted(ctx, nn); err != nil {
		return err
	}
	infersTotal.WithLabelValues("sync").Inc()
	return g.client.Infer(ctx, nn, inputs, outputs, set)
}

// InferPost submits one inference and returns a Pending token correlating
// it to a later Wait. It blocks while the group already has the maximum
// number of outstanding posts. The group lock is held only for the model
// switch and the post itself, so waits proceed without it and may complete
// out of order.
func (g *Group) InferPost(ctx context.Context, nn uint32, inputs []types.Tensor) (*Pending, error) {
	select {
	case g.inferSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.mu.Lock()
	if err := g.ensureStarted(ctx, nn); err != nil {
		g.mu.Unlock()
		<-g.inferSem
		return nil, err
	}
	cookie, err := g.client.InferPost(ctx, nn, inputs)
	g.mu.Unlock()
	if err != nil {
		<-g.inferSem
		return nil, err
	}
	infersTotal.WithLabelValues("post").Inc()
	return &Pending{g: g, cookie: cookie}, nil
}

// Unload retires a model: stops it first when it is the running one, then
// unloads it at the daemon and drops it from the loaded set. A stop failure
// on this path is logged, not propagated, so the unload still proceeds.
func (g *Group) Unload(ctx context.Context, nn uint32) error {
	g.mu.Lock()
	if _, ok := g.loaded[nn]; !ok {
		g.mu.Unlock()
		return modelNotLoadedError{nn: nn}
	}
	delete(g.loaded, nn)
	if g.running == nn {
		if err := g.client.Stop(ctx, nn); err != nil {
			g.log.Warn().Err(err).Uint32("nn", nn).Msg("stop failed during unload")
		}
		g.running = invalidModelID
	}
	g.mu.Unlock()
	return g.client.Unload(ctx, nn)
}

// Clear stops and unloads every loaded model, then destroys the execution
// group at the daemon. Failures are logged and teardown continues.
// Idempotent: clearing an already-cleared group is a no-op.
func (g *Group) Clear(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for nn := range g.loaded {
		if g.running == nn {
			if err := g.client.Stop(ctx, nn); err != nil {
				g.log.Warn().Err(err).Uint32("nn", nn).Msg("stop failed during clear")
			}
			g.running = invalidModelID
		}
		if err := g.client.Unload(ctx, nn); err != nil {
			g.log.Warn().Err(err).Uint32("nn", nn).Msg("unload failed during clear")
		}
	}
	g.loaded = make(map[uint32]struct{})
	if g.created {
		if err := g.client.DestroyEG(ctx, g.egID); err != nil {
			g.log.Warn().Err(err).Uint32("eg", g.egID).Msg("destroy_eg failed during clear")
		}
		g.created = false
	}
}
