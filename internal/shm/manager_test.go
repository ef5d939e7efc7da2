package shm

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"accelrt/internal/daemontest"
	"accelrt/internal/rtclient"
	"accelrt/pkg/types"
)

func newManager(t *testing.T, f *daemontest.Fake) (*Manager, *rtclient.Client) {
	t.Helper()
	f.Listen()
	t.Cleanup(f.Shutdown)
	c, err := rtclient.Connect(daemontest.Target, zerolog.Nop(), f.Dialer())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	m := New(c, zerolog.Nop())
	dir := t.TempDir()
	m.dir = dir
	f.ShmDir = dir
	return m, c
}

func segmentCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestInitializeMapsAndRegistersAllSlots(t *testing.T) {
	f := daemontest.New()
	m, _ := newManager(t, f)
	ctx := context.Background()
	if err := m.Initialize(ctx, 7, []int{16, 32}, []int{64}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !m.Enabled() {
		t.Fatalf("manager must be enabled after initialize")
	}
	if f.MappedCount() != 3 {
		t.Fatalf("expected 3 registered mappings, got %d", f.MappedCount())
	}
	if segmentCount(t, m.dir) != 3 {
		t.Fatalf("expected 3 backing objects")
	}
	set := m.Set()
	if len(set.InputBufs) != 2 || len(set.OutputBufs) != 1 {
		t.Fatalf("unexpected set shape %+v", set)
	}
	if len(set.InputBufs[1]) != 32 || len(set.OutputBufs[0]) != 64 {
		t.Fatalf("buffers not sized to tensors")
	}
}

func TestTeardownMirrorsEverything(t *testing.T) {
	f := daemontest.New()
	m, _ := newManager(t, f)
	ctx := context.Background()
	if err := m.Initialize(ctx, 1, []int{8}, []int{8}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.Teardown(ctx)
	if f.MappedCount() != 0 {
		t.Fatalf("daemon still holds %d registered mappings", f.MappedCount())
	}
	if segmentCount(t, m.dir) != 0 {
		t.Fatalf("backing objects left behind")
	}
	if m.Enabled() {
		t.Fatalf("manager must be disabled after teardown")
	}
	// teardown is unconditional and repeatable
	m.Teardown(ctx)
}

func TestTeardownMakesMaximalProgressOnInjectedFailures(t *testing.T) {
	f := daemontest.New()
	m, c := newManager(t, f)
	ctx := context.Background()
	if err := m.Initialize(ctx, 2, []int{8, 8}, []int{8}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	// sabotage one step of each kind: unregister one path behind the
	// manager's back and delete one backing object
	if err := c.ShmUnmap(ctx, m.inputs[0].name, protReadWrite); err != nil {
		t.Fatalf("sabotage unmap: %v", err)
	}
	if err := os.Remove(m.path(m.outputs[0].name)); err != nil {
		t.Fatalf("sabotage remove: %v", err)
	}
	m.Teardown(ctx)
	if f.MappedCount() != 0 {
		t.Fatalf("daemon still holds %d registered mappings", f.MappedCount())
	}
	if segmentCount(t, m.dir) != 0 {
		t.Fatalf("backing objects left behind despite failures")
	}
}

func TestSharedMemoryRoundTrip(t *testing.T) {
	f := daemontest.New()
	f.OutputSpecs = []types.TensorSpec{{Name: "out", SizeBytes: 8}}
	m, c := newManager(t, f)
	ctx := context.Background()
	eg, _, err := c.CreateEG(ctx, 1)
	if err != nil {
		t.Fatalf("create_eg: %v", err)
	}
	nn, err := c.Load(ctx, eg, []byte{1}, 10, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(ctx, nn); err != nil {
		t.Fatalf("start: %v", err)
	}
	in := []types.Tensor{{Name: "in", Data: []byte{10, 20, 30, 40}}}
	out := []types.Tensor{{Name: "out", Data: make([]byte, 8)}}
	if err := m.Initialize(ctx, nn, []int{len(in[0].Data)}, []int{len(out[0].Data)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer m.Teardown(ctx)
	if err := c.Infer(ctx, nn, in, out, m.Set()); err != nil {
		t.Fatalf("infer: %v", err)
	}
	// the daemon read exactly the staged input bytes
	if !bytes.Equal(f.InferInputs[0], in[0].Data) {
		t.Fatalf("daemon saw %v, want %v", f.InferInputs[0], in[0].Data)
	}
	// and the caller got exactly the daemon's output bytes
	for i, b := range out[0].Data {
		if b != in[0].Data[i%4]^0x5a {
			t.Fatalf("output byte %d mismatch", i)
		}
	}
}
