// Package pool owns the process's execution groups: sizing-plan resolution,
// round-robin placement, and global teardown. A Pool is an explicitly
// constructed, explicitly owned object — there is no ambient global.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"accelrt/internal/device"
	"accelrt/internal/rtclient"
)

const (
	// MaxGroups bounds the number of execution groups a pool manages.
	MaxGroups = 4

	// minCores is the smallest group the descending default search tries.
	minCores = 1

	// daemonDefaultCores asks the daemon to size the group itself.
	daemonDefaultCores = -1
)

var activeGroups = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "accelrt",
	Subsystem: "pool",
	Name:      "active_groups",
	Help:      "Execution groups currently active in the pool",
})

func init() {
	prometheus.MustRegister(activeGroups)
}

// Config carries the pool's sizing inputs.
type Config struct {
	// GroupSizes is the raw textual per-group core-count list. Takes
	// priority over any total-core budget when it parses cleanly.
	GroupSizes string
	// MaxInflight bounds outstanding asynchronous posts per group.
	MaxInflight int
}

// Pool is a bounded collection of execution groups with a round-robin
// placement cursor. Lazy initialization and teardown are serialized by the
// pool lock; each group serializes its own state transitions.
type Pool struct {
	mu     sync.Mutex
	client *rtclient.Client
	cfg    Config
	log    zerolog.Logger

	groups []*device.Group
	cursor int
	ready  bool
}

// New returns an empty, not-yet-initialized pool.
func New(client *rtclient.Client, cfg Config, log zerolog.Logger) *Pool {
	return &Pool{client: client, cfg: cfg, log: log}
}

// Ready reports whether the pool has been initialized.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// ActiveGroups returns the number of groups placement cycles over.
func (p *Pool) ActiveGroups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups)
}

// Initialize resolves the sizing plan and creates the groups. coreBudget is
// the optional total-core hint, used only when no explicit list is
// configured. Either ≥1 group activates consistent with the plan, or the
// pool stays empty and the last attempt's error is returned.
func (p *Pool) Initialize(ctx context.Context, coreBudget int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if err := p.initializeLocked(ctx, coreBudget); err != nil {
		return err
	}
	p.ready = true
	return nil
}

func (p *Pool) initializeLocked(ctx context.Context, coreBudget int64) error {
	if sizes, ok := ParseGroupSizes(p.cfg.GroupSizes, p.log); ok {
		return p.initGroupsLocked(ctx, sizes)
	}
	return p.initDefaultLocked(ctx, coreBudget)
}

// initGroupsLocked attempts the plan in order. The first failure stops
// further attempts but keeps groups already created.
func (p *Pool) initGroupsLocked(ctx context.Context, sizes []int) error {
	if len(sizes) > MaxGroups {
		p.log.Warn().Int("requested", len(sizes)).Int("max", MaxGroups).
			Msg("group sizes list longer than pool capacity; extra entries ignored")
		sizes = sizes[:MaxGroups]
	}
	lastErr := errors.New("no execution group could be initialized")
	for _, cores := range sizes {
		g := device.New(p.client, p.log, p.cfg.MaxInflight)
		if err := g.Initialize(ctx, cores); err != nil {
			p.log.Warn().Err(err).Int("cores", cores).
				Msg("cannot initialize execution group; stopping initialization")
			lastErr = err
			break
		}
		p.addGroupLocked(g)
		p.log.Debug().Int("cores", cores).Msg("execution group initialized")
	}
	if len(p.groups) == 0 {
		return lastErr
	}
	return nil
}

// initDefaultLocked resolves the plan from the total-core budget: the two
// canonical hardware shapes fill exactly, an out-of-range budget takes one
// daemon-sized group, anything else descends from the budget to the minimum
// viable size and keeps the first group that initializes.
func (p *Pool) initDefaultLocked(ctx context.Context, coreBudget int64) error {
	if coreBudget < 0 || coreBudget > maxListEntry {
		g := device.New(p.client, p.log, p.cfg.MaxInflight)
		if err := g.Initialize(ctx, daemonDefaultCores); err != nil {
			return err
		}
		p.addGroupLocked(g)
		return nil
	}
	switch coreBudget {
	case 1:
		return p.initGroupsLocked(ctx, []int{1, 1, 1, 1})
	case 2:
		return p.initGroupsLocked(ctx, []int{2, 2})
	}
	lastErr := errors.New("no execution group could be initialized")
	for cores := int(coreBudget); cores >= minCores; cores-- {
		g := device.New(p.client, p.log, p.cfg.MaxInflight)
		if err := g.Initialize(ctx, cores); err != nil {
			lastErr = err
			continue
		}
		p.addGroupLocked(g)
		return nil
	}
	return lastErr
}

func (p *Pool) addGroupLocked(g *device.Group) {
	if len(p.groups) >= MaxGroups {
		// capacity invariant; plans are clamped before we get here
		return
	}
	p.groups = append(p.groups, g)
	activeGroups.Set(float64(len(p.groups)))
}

// Apply returns the next group in round-robin order, initializing the pool
// first if needed. Concurrent first callers serialize on the pool lock;
// only one performs initialization.
func (p *Pool) Apply(ctx context.Context, coreBudget int64) (*device.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		if err := p.initializeLocked(ctx, coreBudget); err != nil {
			return nil, err
		}
		p.ready = true
	}
	g := p.groups[p.cursor]
	p.cursor++
	if p.cursor >= len(p.groups) {
		p.cursor = 0
	}
	return g, nil
}

// ClearIfEmpty tears the pool down when no group holds a loaded model.
func (p *Pool) ClearIfEmpty(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		if g.NumLoaded() != 0 {
			return
		}
	}
	p.clearLocked(ctx)
}

// Clear tears down every group and resets the pool to not-ready. Safe to
// call repeatedly.
func (p *Pool) Clear(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked(ctx)
}

func (p *Pool) clearLocked(ctx context.Context) {
	for _, g := range p.groups {
		g.Clear(ctx)
	}
	p.groups = nil
	p.cursor = 0
	p.ready = false
	activeGroups.Set(0)
	p.log.Debug().Msg("device pool cleared")
}
