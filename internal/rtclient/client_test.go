package rtclient

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"accelrt/internal/daemontest"
	"accelrt/internal/rtapi"
	"accelrt/pkg/types"
)

func newClient(t *testing.T, f *daemontest.Fake) *Client {
	t.Helper()
	f.Listen()
	t.Cleanup(f.Shutdown)
	c, err := Connect(daemontest.Target, zerolog.Nop(), f.Dialer())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateEGReturnsHandleAndCores(t *testing.T) {
	f := daemontest.New()
	c := newClient(t, f)
	eg, cores, err := c.CreateEG(context.Background(), 2)
	if err != nil {
		t.Fatalf("create_eg: %v", err)
	}
	if eg == 0 || cores != 2 {
		t.Fatalf("unexpected eg=%d cores=%d", eg, cores)
	}
}

func TestCreateEGDaemonDefaultOmitsCount(t *testing.T) {
	f := daemontest.New()
	f.DefaultCores = 4
	c := newClient(t, f)
	_, cores, err := c.CreateEG(context.Background(), -1)
	if err != nil {
		t.Fatalf("create_eg: %v", err)
	}
	if cores != 4 {
		t.Fatalf("expected daemon default 4 cores, got %d", cores)
	}
}

func TestCreateEGUnavailableHintCarriesSocketPath(t *testing.T) {
	c, err := Connect("unix:/nonexistent/accel.sock", zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	_, _, err = c.CreateEG(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error against dead socket")
	}
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Is the accelerator runtime daemon running?") ||
		!strings.Contains(msg, "/nonexistent/accel.sock") {
		t.Fatalf("hint missing from %q", msg)
	}
}

func TestLoadStreamsFramesInOrderAndChunks(t *testing.T) {
	f := daemontest.New()
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, err := c.CreateEG(ctx, 1)
	if err != nil {
		t.Fatalf("create_eg: %v", err)
	}
	// 5 MiB: two full 2 MiB chunks plus a 1 MiB tail
	executable := bytes.Repeat([]byte{0xab}, 5<<20)
	nn, err := c.Load(ctx, eg, executable, 10, 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if nn == 0 {
		t.Fatalf("expected a model handle")
	}
	if len(f.Loads) != 1 {
		t.Fatalf("expected 1 load record, got %d", len(f.Loads))
	}
	rec := f.Loads[0]
	if rec.EG != eg || rec.DeclaredSize != uint64(len(executable)) {
		t.Fatalf("bad framing: eg=%d size=%d", rec.EG, rec.DeclaredSize)
	}
	if rec.TimeoutSec != 10 || rec.MaxInfer != 2 {
		t.Fatalf("bad model params: %+v", rec)
	}
	if rec.Chunks != 3 {
		t.Fatalf("expected 3 chunks, got %d", rec.Chunks)
	}
	if !bytes.Equal(rec.Bytes, executable) {
		t.Fatalf("executable bytes corrupted in transit")
	}
}

func TestLoadBrokenStreamProducesNoModel(t *testing.T) {
	f := daemontest.New()
	f.FailLoadAtChunk = 3
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, err := c.CreateEG(ctx, 1)
	if err != nil {
		t.Fatalf("create_eg: %v", err)
	}
	executable := bytes.Repeat([]byte{0x01}, 7<<20)
	if _, err := c.Load(ctx, eg, executable, 10, 1); err == nil {
		t.Fatalf("expected load to fail on injected stream break")
	}
	if f.ModelCount() != 0 {
		t.Fatalf("no model should exist after a broken load")
	}
}

func TestInferNumericAnomalyIsSuccess(t *testing.T) {
	f := daemontest.New()
	f.OutputSpecs = []types.TensorSpec{{Name: "out", SizeBytes: 4}}
	f.InferStatus = rtapi.Status{Code: rtapi.CodeInferCompletedWithNumErr, Details: "nan in results"}
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, _ := c.CreateEG(ctx, 1)
	nn, err := c.Load(ctx, eg, []byte{1, 2, 3}, 10, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(ctx, nn); err != nil {
		t.Fatalf("start: %v", err)
	}
	outputs := []types.Tensor{{Name: "out", Data: make([]byte, 4)}}
	err = c.Infer(ctx, nn, []types.Tensor{{Name: "in", Data: []byte{9, 9}}}, outputs, nil)
	if err != nil {
		t.Fatalf("numeric anomaly must be success, got %v", err)
	}
}

func TestInferOtherDaemonStatusIsError(t *testing.T) {
	f := daemontest.New()
	f.OutputSpecs = []types.TensorSpec{{Name: "out", SizeBytes: 4}}
	f.InferStatus = rtapi.Status{Code: 17, Details: "device fault"}
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, _ := c.CreateEG(ctx, 1)
	nn, _ := c.Load(ctx, eg, []byte{1}, 10, 1)
	if err := c.Start(ctx, nn); err != nil {
		t.Fatalf("start: %v", err)
	}
	outputs := []types.Tensor{{Name: "out", Data: make([]byte, 4)}}
	err := c.Infer(ctx, nn, nil, outputs, nil)
	if err == nil || !IsDaemonError(err) {
		t.Fatalf("expected daemon error, got %v", err)
	}
	if DaemonStatusCode(err) != 17 {
		t.Fatalf("expected code 17, got %d", DaemonStatusCode(err))
	}
}

func TestInferInlineRoundTrip(t *testing.T) {
	f := daemontest.New()
	f.OutputSpecs = []types.TensorSpec{{Name: "out", SizeBytes: 8}}
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, _ := c.CreateEG(ctx, 1)
	nn, _ := c.Load(ctx, eg, []byte{1}, 10, 1)
	if err := c.Start(ctx, nn); err != nil {
		t.Fatalf("start: %v", err)
	}
	in := []byte{1, 2, 3, 4}
	outputs := []types.Tensor{{Name: "out", Data: make([]byte, 8)}}
	if err := c.Infer(ctx, nn, []types.Tensor{{Name: "in", Data: in}}, outputs, nil); err != nil {
		t.Fatalf("infer: %v", err)
	}
	if !bytes.Equal(f.InferInputs[0], in) {
		t.Fatalf("daemon saw %v, want %v", f.InferInputs[0], in)
	}
	for i, b := range outputs[0].Data {
		if b != in[i%len(in)]^0x5a {
			t.Fatalf("output byte %d not copied from response", i)
		}
	}
}

func TestInferWaitUnknownCookieIsError(t *testing.T) {
	f := daemontest.New()
	f.OutputSpecs = []types.TensorSpec{{Name: "out", SizeBytes: 2}}
	c := newClient(t, f)
	ctx := context.Background()
	eg, _, _ := c.CreateEG(ctx, 1)
	nn, _ := c.Load(ctx, eg, []byte{1}, 10, 1)
	if err := c.Start(ctx, nn); err != nil {
		t.Fatalf("start: %v", err)
	}
	cookie, err := c.InferPost(ctx, nn, []types.Tensor{{Name: "in", Data: []byte{5}}})
	if err != nil {
		t.Fatalf("infer_post: %v", err)
	}
	outputs := []types.Tensor{{Name: "out", Data: make([]byte, 2)}}
	if err := c.InferWait(ctx, cookie, outputs); err != nil {
		t.Fatalf("infer_wait: %v", err)
	}
	// cookies are single-use
	if err := c.InferWait(ctx, cookie, outputs); err == nil || !IsDaemonError(err) {
		t.Fatalf("expected daemon error on consumed cookie, got %v", err)
	}
}
