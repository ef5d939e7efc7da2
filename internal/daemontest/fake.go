// Package daemontest provides an in-process fake of the accelerator runtime
// daemon, served over a bufconn listener. Tests point a real client at it
// and assert on the recorded call sequence.
package daemontest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"accelrt/internal/rtapi"
	"accelrt/pkg/types"
)

// Target is the dial target to use together with Dialer().
const Target = "passthrough:///bufnet"

const failCode = int32(2)

type model struct {
	eg         uint32
	executable []byte
}

// Fake is a recording daemon. The zero value plus Listen is ready to use;
// failure-injection knobs are set before the client call under test.
type Fake struct {
	mu  sync.Mutex
	srv *grpc.Server
	lis *bufconn.Listener

	nextEG     uint32
	nextNN     uint32
	nextCookie uint64

	egs     map[uint32]uint32 // eg id -> core count
	models  map[uint32]*model
	running map[uint32]bool
	mapped  map[string]bool
	pending map[uint64][][]byte

	// Knobs (set before the call under test).
	DefaultCores     uint32             // cores granted when the request omits a count (default 4)
	MaxEGs           int                // creations beyond this fail (0 = unlimited)
	MaxCoresAccepted int                // creations requesting more cores fail (0 = unlimited)
	FailLoadAtChunk  int                // abort the load stream at the Nth executable chunk (0 = never)
	InferStatus      rtapi.Status       // status returned by infer/infer_wait (zero = OK)
	OutputSpecs      []types.TensorSpec // output tensors the "model" produces
	ShmDir           string             // where shm paths resolve, for reading/writing tensor bytes

	// Recorded activity.
	Starts      []uint32
	Stops       []uint32
	Ops         []string // interleaved "start:<nn>"/"stop:<nn>"/... sequence
	Loads       []LoadRecord
	ShmMapped   []string
	ShmUnmapped []string
	InferInputs [][]byte // payload bytes of the most recent infer/post, in tensor order
}

// LoadRecord captures one completed or aborted load stream.
type LoadRecord struct {
	EG           uint32
	DeclaredSize uint64
	TimeoutSec   uint32
	MaxInfer     uint32
	Bytes        []byte
	Chunks       int
}

// New returns a Fake with empty state.
func New() *Fake {
	return &Fake{
		DefaultCores: 4,
		egs:          make(map[uint32]uint32),
		models:       make(map[uint32]*model),
		running:      make(map[uint32]bool),
		mapped:       make(map[string]bool),
		pending:      make(map[uint64][][]byte),
	}
}

// Listen starts serving on an in-memory listener.
func (f *Fake) Listen() {
	f.lis = bufconn.Listen(1 << 20)
	f.srv = grpc.NewServer()
	rtapi.RegisterDaemonServer(f.srv, f)
	go func() { _ = f.srv.Serve(f.lis) }()
}

// Shutdown stops the server.
func (f *Fake) Shutdown() { f.srv.Stop() }

// Dialer returns the dial option routing Target to this fake.
func (f *Fake) Dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return f.lis.DialContext(ctx)
	})
}

// ModelCount returns the number of models currently loaded.
func (f *Fake) ModelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.models)
}

// EGCount returns the number of live execution groups.
func (f *Fake) EGCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.egs)
}

// MappedCount returns the number of currently registered shm paths.
func (f *Fake) MappedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mapped)
}

func fail(details string) rtapi.Status {
	return rtapi.Status{Code: failCode, Details: details}
}

func (f *Fake) CreateEG(_ context.Context, req *rtapi.CreateEGRequest) (*rtapi.CreateEGResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := new(rtapi.CreateEGResponse)
	if f.MaxEGs > 0 && len(f.egs) >= f.MaxEGs {
		resp.Status = fail("no cores available")
		return resp, nil
	}
	cores := f.DefaultCores
	if req.NCCount != nil {
		cores = *req.NCCount
	}
	if f.MaxCoresAccepted > 0 && int(cores) > f.MaxCoresAccepted {
		resp.Status = fail(fmt.Sprintf("cannot reserve %d cores", cores))
		return resp, nil
	}
	f.nextEG++
	f.egs[f.nextEG] = cores
	resp.HEG = rtapi.Handle{ID: f.nextEG}
	resp.NCCount = cores
	return resp, nil
}

func (f *Fake) Load(stream rtapi.LoadServerStream) error {
	rec := LoadRecord{}
	frame := 0
	for {
		req, err := stream.Recv()
		if err != nil {
			break
		}
		switch {
		case frame == 0:
			if req.HEG == nil {
				return status.Error(codes.InvalidArgument, "first load frame must carry the execution group handle")
			}
			rec.EG = req.HEG.ID
		case frame == 1:
			if req.ExecSize == nil {
				return status.Error(codes.InvalidArgument, "second load frame must carry the executable size")
			}
			rec.DeclaredSize = *req.ExecSize
		case frame == 2:
			if req.ModelParams == nil {
				return status.Error(codes.InvalidArgument, "third load frame must carry the model params")
			}
			rec.TimeoutSec = req.ModelParams.TimeoutSec
			rec.MaxInfer = req.ModelParams.MaxInfer
		default:
			rec.Chunks++
			if f.FailLoadAtChunk > 0 && rec.Chunks == f.FailLoadAtChunk {
				return status.Error(codes.Internal, "injected stream failure")
			}
			if len(req.Chunk) > 2<<20 {
				return status.Error(codes.InvalidArgument, "oversized executable chunk")
			}
			rec.Bytes = append(rec.Bytes, req.Chunk...)
		}
		frame++
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Loads = append(f.Loads, rec)
	resp := new(rtapi.LoadResponse)
	if _, ok := f.egs[rec.EG]; !ok {
		resp.Status = fail(fmt.Sprintf("unknown execution group %d", rec.EG))
		return stream.SendAndClose(resp)
	}
	if rec.DeclaredSize != uint64(len(rec.Bytes)) {
		resp.Status = fail("executable size mismatch")
		return stream.SendAndClose(resp)
	}
	f.nextNN++
	f.models[f.nextNN] = &model{eg: rec.EG, executable: rec.Bytes}
	resp.HNN = rtapi.Handle{ID: f.nextNN}
	return stream.SendAndClose(resp)
}

func (f *Fake) Start(_ context.Context, req *rtapi.StartRequest) (*rtapi.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nn := req.HNN.ID
	resp := new(rtapi.StartResponse)
	mdl, ok := f.models[nn]
	if !ok {
		resp.Status = fail(fmt.Sprintf("unknown model %d", nn))
		return resp, nil
	}
	for other := range f.running {
		if f.running[other] && f.models[other] != nil && f.models[other].eg == mdl.eg {
			resp.Status = fail(fmt.Sprintf("model %d is already running on execution group %d", other, mdl.eg))
			return resp, nil
		}
	}
	f.running[nn] = true
	f.Starts = append(f.Starts, nn)
	f.Ops = append(f.Ops, fmt.Sprintf("start:%d", nn))
	return resp, nil
}

func (f *Fake) Stop(_ context.Context, req *rtapi.StopRequest) (*rtapi.StopResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nn := req.HNN.ID
	resp := new(rtapi.StopResponse)
	if !f.running[nn] {
		resp.Status = fail(fmt.Sprintf("model %d is not running", nn))
		return resp, nil
	}
	delete(f.running, nn)
	f.Stops = append(f.Stops, nn)
	f.Ops = append(f.Ops, fmt.Sprintf("stop:%d", nn))
	return resp, nil
}

func (f *Fake) Unload(_ context.Context, req *rtapi.UnloadRequest) (*rtapi.UnloadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nn := req.HNN.ID
	resp := new(rtapi.UnloadResponse)
	if _, ok := f.models[nn]; !ok {
		resp.Status = fail(fmt.Sprintf("unknown model %d", nn))
		return resp, nil
	}
	if f.running[nn] {
		resp.Status = fail(fmt.Sprintf("model %d is still running", nn))
		return resp, nil
	}
	delete(f.models, nn)
	f.Ops = append(f.Ops, fmt.Sprintf("unload:%d", nn))
	return resp, nil
}

func (f *Fake) DestroyEG(_ context.Context, req *rtapi.DestroyEGRequest) (*rtapi.DestroyEGResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eg := req.HEG.ID
	resp := new(rtapi.DestroyEGResponse)
	if _, ok := f.egs[eg]; !ok {
		resp.Status = fail(fmt.Sprintf("unknown execution group %d", eg))
		return resp, nil
	}
	for nn, m := range f.models {
		if m.eg == eg {
			resp.Status = fail(fmt.Sprintf("model %d is still loaded on execution group %d", nn, eg))
			return resp, nil
		}
	}
	delete(f.egs, eg)
	f.Ops = append(f.Ops, fmt.Sprintf("destroy_eg:%d", eg))
	return resp, nil
}

// gatherInputs resolves one request's input payloads, reading shm-referenced
// tensors from their backing files.
func (f *Fake) gatherInputs(ifmap []rtapi.InferIO) ([][]byte, error) {
	var inputs [][]byte
	for _, io := range ifmap {
		if io.ShmPath != "" {
			if !f.mapped[io.ShmPath] {
				return nil, fmt.Errorf("shm path %s is not registered", io.ShmPath)
			}
			b, err := os.ReadFile(f.shmFile(io.ShmPath))
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, b)
			continue
		}
		inputs = append(inputs, append([]byte(nil), io.Buf...))
	}
	return inputs, nil
}

func (f *Fake) shmFile(path string) string {
	return filepath.Join(f.ShmDir, strings.TrimPrefix(path, "/"))
}

// synthesize derives deterministic output bytes from the input payloads, so
// tests can check sync/async equivalence and shm round trips.
func synthesize(inputs [][]byte, size int) []byte {
	var all []byte
	for _, b := range inputs {
		all = append(all, b...)
	}
	out := make([]byte, size)
	if len(all) == 0 {
		return out
	}
	for i := range out {
		out[i] = all[i%len(all)] ^ 0x5a
	}
	return out
}

func (f *Fake) Infer(_ context.Context, req *rtapi.InferRequest) (*rtapi.InferResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := new(rtapi.InferResponse)
	if !f.running[req.HNN.ID] {
		resp.Status = fail(fmt.Sprintf("model %d is not started", req.HNN.ID))
		return resp, nil
	}
	inputs, err := f.gatherInputs(req.IFMap)
	if err != nil {
		resp.Status = fail(err.Error())
		return resp, nil
	}
	f.InferInputs = inputs
	f.Ops = append(f.Ops, fmt.Sprintf("infer:%d", req.HNN.ID))
	if len(req.ShmOFMap) > 0 {
		for _, io := range req.ShmOFMap {
			if !f.mapped[io.ShmPath] {
				resp.Status = fail(fmt.Sprintf("shm path %s is not registered", io.ShmPath))
				return resp, nil
			}
			spec, ok := f.specFor(io.Name)
			if !ok {
				resp.Status = fail(fmt.Sprintf("unknown output tensor %s", io.Name))
				return resp, nil
			}
			out := synthesize(inputs, spec.SizeBytes)
			if err := os.WriteFile(f.shmFile(io.ShmPath), out, 0o600); err != nil {
				resp.Status = fail(err.Error())
				return resp, nil
			}
		}
	} else {
		for _, spec := range f.OutputSpecs {
			resp.OFMap = append(resp.OFMap, rtapi.InferIO{Name: spec.Name, Buf: synthesize(inputs, spec.SizeBytes)})
		}
	}
	resp.Status = f.InferStatus
	return resp, nil
}

func (f *Fake) InferPost(_ context.Context, req *rtapi.InferRequest) (*rtapi.InferPostResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := new(rtapi.InferPostResponse)
	if !f.running[req.HNN.ID] {
		resp.Status = fail(fmt.Sprintf("model %d is not started", req.HNN.ID))
		return resp, nil
	}
	inputs, err := f.gatherInputs(req.IFMap)
	if err != nil {
		resp.Status = fail(err.Error())
		return resp, nil
	}
	f.InferInputs = inputs
	f.nextCookie++
	f.pending[f.nextCookie] = inputs
	f.Ops = append(f.Ops, fmt.Sprintf("infer_post:%d", req.HNN.ID))
	resp.Cookie = f.nextCookie
	return resp, nil
}

func (f *Fake) InferWait(_ context.Context, req *rtapi.InferWaitRequest) (*rtapi.InferResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := new(rtapi.InferResponse)
	inputs, ok := f.pending[req.Cookie]
	if !ok {
		resp.Status = fail(fmt.Sprintf("unknown or already-consumed cookie %d", req.Cookie))
		return resp, nil
	}
	delete(f.pending, req.Cookie)
	for _, spec := range f.OutputSpecs {
		resp.OFMap = append(resp.OFMap, rtapi.InferIO{Name: spec.Name, Buf: synthesize(inputs, spec.SizeBytes)})
	}
	resp.Status = f.InferStatus
	return resp, nil
}

func (f *Fake) ShmMap(_ context.Context, req *rtapi.ShmMapRequest) (*rtapi.ShmMapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapped[req.Path] = true
	f.ShmMapped = append(f.ShmMapped, req.Path)
	return new(rtapi.ShmMapResponse), nil
}

func (f *Fake) ShmUnmap(_ context.Context, req *rtapi.ShmUnmapRequest) (*rtapi.ShmUnmapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := new(rtapi.ShmUnmapResponse)
	if !f.mapped[req.Path] {
		resp.Status = fail(fmt.Sprintf("shm path %s is not registered", req.Path))
		return resp, nil
	}
	delete(f.mapped, req.Path)
	f.ShmUnmapped = append(f.ShmUnmapped, req.Path)
	return resp, nil
}

func (f *Fake) specFor(name string) (types.TensorSpec, bool) {
	for _, s := range f.OutputSpecs {
		if s.Name == name {
			return s, true
		}
	}
	return types.TensorSpec{}, false
}
