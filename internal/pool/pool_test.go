package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"accelrt/internal/daemontest"
	"accelrt/internal/device"
	"accelrt/internal/rtclient"
)

func newPool(t *testing.T, f *daemontest.Fake, cfg Config) *Pool {
	t.Helper()
	f.Listen()
	t.Cleanup(f.Shutdown)
	c, err := rtclient.Connect(daemontest.Target, zerolog.Nop(), f.Dialer())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return New(c, cfg, zerolog.Nop())
}

func TestInitializeExplicitListActivatesAllGroups(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{GroupSizes: "[1,1,1,1]"})
	if err := p.Initialize(context.Background(), -1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if p.ActiveGroups() != 4 || f.EGCount() != 4 {
		t.Fatalf("expected 4 active groups, got %d (daemon %d)", p.ActiveGroups(), f.EGCount())
	}
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{GroupSizes: "[1,1,1,1]"})
	ctx := context.Background()
	counts := map[*device.Group]int{}
	var order []*device.Group
	for i := 0; i < 10; i++ {
		g, err := p.Apply(ctx, -1)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		counts[g]++
		order = append(order, g)
	}
	if len(counts) != 4 {
		t.Fatalf("expected 4 distinct groups, got %d", len(counts))
	}
	for g, n := range counts {
		if n != 2 && n != 3 {
			t.Fatalf("group %p got %d placements, want 2 or 3", g, n)
		}
	}
	// strict cycle: position i and i+4 hit the same group
	for i := 0; i+4 < len(order); i++ {
		if order[i] != order[i+4] {
			t.Fatalf("round-robin cycle broken at %d", i)
		}
	}
}

func TestPartialPlanFailureKeepsEarlierGroups(t *testing.T) {
	f := daemontest.New()
	f.MaxEGs = 1
	p := newPool(t, f, Config{GroupSizes: "[2,2]"})
	if err := p.Initialize(context.Background(), -1); err != nil {
		t.Fatalf("one group succeeded, initialize must too: %v", err)
	}
	if p.ActiveGroups() != 1 {
		t.Fatalf("expected 1 active group, got %d", p.ActiveGroups())
	}
	// cycle length 1
	ctx := context.Background()
	g1, _ := p.Apply(ctx, -1)
	g2, _ := p.Apply(ctx, -1)
	if g1 != g2 {
		t.Fatalf("single-group pool must always return the same group")
	}
}

func TestZeroGroupsFailsWithLastError(t *testing.T) {
	f := daemontest.New()
	f.MaxEGs = 0
	f.MaxCoresAccepted = 1 // every 2-core request fails
	p := newPool(t, f, Config{GroupSizes: "[2,2]"})
	if err := p.Initialize(context.Background(), -1); err == nil {
		t.Fatalf("expected initialize to fail with zero groups")
	}
	if p.ActiveGroups() != 0 || p.Ready() {
		t.Fatalf("failed initialize must leave the pool empty and not ready")
	}
}

func TestMalformedListFallsBackToDefaultPlan(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{GroupSizes: "abc"})
	// budget 1 selects the canonical [1,1,1,1] shape
	if err := p.Initialize(context.Background(), 1); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if p.ActiveGroups() != 4 {
		t.Fatalf("expected fallback to 4 one-core groups, got %d", p.ActiveGroups())
	}
}

func TestBudgetTwoUsesTwoGroups(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{})
	if err := p.Initialize(context.Background(), 2); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if p.ActiveGroups() != 2 {
		t.Fatalf("expected [2,2] plan, got %d groups", p.ActiveGroups())
	}
}

func TestDefaultSearchDescendsToViableSize(t *testing.T) {
	f := daemontest.New()
	f.MaxCoresAccepted = 3
	p := newPool(t, f, Config{})
	if err := p.Initialize(context.Background(), 6); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if p.ActiveGroups() != 1 {
		t.Fatalf("expected a single descended group, got %d", p.ActiveGroups())
	}
	g, err := p.Apply(context.Background(), 6)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if g.Cores() != 3 {
		t.Fatalf("expected first viable size 3, got %d", g.Cores())
	}
}

func TestApplyLazilyInitializesOnce(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{GroupSizes: "[1,1]"})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Apply(ctx, -1); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.EGCount() != 2 {
		t.Fatalf("concurrent first appliers must initialize exactly once, daemon has %d groups", f.EGCount())
	}
}

func TestClearIfEmptyRespectsLoadedModels(t *testing.T) {
	f := daemontest.New()
	p := newPool(t, f, Config{GroupSizes: "[1,1]"})
	ctx := context.Background()
	g, err := p.Apply(ctx, -1)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := g.Load(ctx, []byte{1, 2}, 10, 1); err != nil {
		t.Fatalf("load: %v", err)
	}
	p.ClearIfEmpty(ctx)
	if !p.Ready() {
		t.Fatalf("pool with loaded models must survive ClearIfEmpty")
	}
	p.Clear(ctx)
	if p.Ready() || p.ActiveGroups() != 0 || f.EGCount() != 0 {
		t.Fatalf("clear must tear everything down")
	}
	// repeated clear is safe
	p.Clear(ctx)
	p.ClearIfEmpty(ctx)
}
