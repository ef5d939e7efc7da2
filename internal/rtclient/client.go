package rtclient

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"accelrt/internal/rtapi"
)

// loadChunkSize bounds one executable chunk on the load stream.
const loadChunkSize = 2 << 20

// Client is a thin stub over the daemon's runtime-management service: one
// method per daemon operation, with daemon status codes normalized into
// typed errors.
type Client struct {
	address string
	conn    *grpc.ClientConn
	log     zerolog.Logger
}

// statusCarrier is implemented by every daemon response message.
type statusCarrier interface {
	RespStatus() rtapi.Status
	SetRespStatus(rtapi.Status)
}

// Connect builds an unauthenticated channel to the daemon with unbounded
// message sizes. address accepts host:port or the unix:/path scheme.
// The connection is lazy; reachability failures surface on the first call.
func Connect(address string, log zerolog.Logger, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(rtapi.CodecName),
			grpc.MaxCallRecvMsgSize(math.MaxInt32),
			grpc.MaxCallSendMsgSize(math.MaxInt32),
		),
	}
	opts = append(opts, extra...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, ErrUnavailable("cannot establish grpc channel to accelerator runtime daemon: " + err.Error())
	}
	return &Client{address: address, conn: conn, log: log}, nil
}

// Address returns the daemon address this client was built for.
func (c *Client) Address() string { return c.address }

// Close tears down the channel.
func (c *Client) Close() error { return c.conn.Close() }

// unavailableHint builds the operator-facing diagnostic for an unreachable
// daemon, including the socket path for unix addresses.
func (c *Client) unavailableHint() string {
	msg := "grpc server " + c.address + " is unavailable. Is the accelerator runtime daemon running?"
	if path, ok := strings.CutPrefix(c.address, "unix:"); ok {
		path = strings.TrimPrefix(path, "//")
		msg += " Is socket " + path + " writable?"
	}
	return msg
}

// transportErr normalizes a failed gRPC call into a typed error.
func (c *Client) transportErr(method string, err error) error {
	rpcTotal.WithLabelValues(method, outcomeTransport).Inc()
	if status.Code(err) == codes.Unavailable {
		return ErrUnavailable(c.unavailableHint())
	}
	return daemonError{op: method, code: -1, details: err.Error()}
}

// invoke performs one unary daemon call: build request, call, check the
// two-level status, translate. Every unary operation below goes through it.
// remapNumErr downgrades the numeric-anomaly status to OK before checking.
func (c *Client) invoke(ctx context.Context, method string, req any, resp statusCarrier, remapNumErr bool) error {
	start := time.Now()
	err := c.conn.Invoke(ctx, rtapi.MethodPath(method), req, resp)
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.transportErr(method, err)
	}
	st := resp.RespStatus()
	if remapNumErr && st.Code == rtapi.CodeInferCompletedWithNumErr {
		st = rtapi.Status{Code: rtapi.CodeOK}
		resp.SetRespStatus(st)
	}
	if !st.OK() {
		rpcTotal.WithLabelValues(method, outcomeDaemonErr).Inc()
		return daemonError{op: method, code: st.Code, details: st.Details}
	}
	rpcTotal.WithLabelValues(method, outcomeOK).Inc()
	return nil
}

// CreateEG reserves an execution group of requestedCores accelerator cores.
// Negative requestedCores asks for the daemon default. Returns the group
// handle and the core count actually reserved.
func (c *Client) CreateEG(ctx context.Context, requestedCores int) (uint32, uint32, error) {
	req := &rtapi.CreateEGRequest{}
	if requestedCores >= 0 {
		n := uint32(requestedCores)
		req.NCCount = &n
	}
	resp := new(rtapi.CreateEGResponse)
	if err := c.invoke(ctx, rtapi.MethodCreateEG, req, resp, false); err != nil {
		return 0, 0, err
	}
	return resp.HEG.ID, resp.NCCount, nil
}

// Load streams a compiled executable to the daemon and returns the new
// model handle. The stream carries, in order: the group handle, the total
// byte count, the model parameters, then the executable in bounded chunks.
// Any failed write or close abandons the load; there is no resume.
func (c *Client) Load(ctx context.Context, egID uint32, executable []byte, timeoutSec, maxInfer uint32) (uint32, error) {
	stream, err := c.conn.NewStream(ctx, &rtapi.LoadStreamDesc, rtapi.MethodPath(rtapi.MethodLoad))
	if err != nil {
		return 0, c.transportErr(rtapi.MethodLoad, err)
	}
	send := func(req *rtapi.LoadRequest) error {
		if err := stream.SendMsg(req); err != nil {
			rpcTotal.WithLabelValues(rtapi.MethodLoad, outcomeTransport).Inc()
			return brokenStreamError{op: rtapi.MethodLoad}
		}
		return nil
	}
	if err := send(&rtapi.LoadRequest{HEG: &rtapi.Handle{ID: egID}}); err != nil {
		return 0, err
	}
	size := uint64(len(executable))
	if err := send(&rtapi.LoadRequest{ExecSize: &size}); err != nil {
		return 0, err
	}
	params := &rtapi.ModelParams{TimeoutSec: timeoutSec, MaxInfer: maxInfer}
	if err := send(&rtapi.LoadRequest{ModelParams: params}); err != nil {
		return 0, err
	}
	for pos := 0; pos < len(executable); pos += loadChunkSize {
		end := min(pos+loadChunkSize, len(executable))
		if err := send(&rtapi.LoadRequest{Chunk: executable[pos:end]}); err != nil {
			return 0, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		rpcTotal.WithLabelValues(rtapi.MethodLoad, outcomeTransport).Inc()
		return 0, brokenStreamError{op: rtapi.MethodLoad}
	}
	resp := new(rtapi.LoadResponse)
	if err := stream.RecvMsg(resp); err != nil {
		return 0, c.transportErr(rtapi.MethodLoad, err)
	}
	if !resp.Status.OK() {
		rpcTotal.WithLabelValues(rtapi.MethodLoad, outcomeDaemonErr).Inc()
		return 0, daemonError{op: rtapi.MethodLoad, code: resp.Status.Code, details: resp.Status.Details}
	}
	rpcTotal.WithLabelValues(rtapi.MethodLoad, outcomeOK).Inc()
	return resp.HNN.ID, nil
}

// Start makes model nn the running model of its execution group.
func (c *Client) Start(ctx context.Context, nn uint32) error {
	resp := new(rtapi.StartResponse)
	return c.invoke(ctx, rtapi.MethodStart, &rtapi.StartRequest{HNN: rtapi.Handle{ID: nn}}, resp, false)
}

// Stop halts the running model nn.
func (c *Client) Stop(ctx context.Context, nn uint32) error {
	resp := new(rtapi.StopResponse)
	return c.invoke(ctx, rtapi.MethodStop, &rtapi.StopRequest{HNN: rtapi.Handle{ID: nn}}, resp, false)
}

// Unload retires model nn at the daemon. The handle is invalid afterwards.
func (c *Client) Unload(ctx context.Context, nn uint32) error {
	resp := new(rtapi.UnloadResponse)
	return c.invoke(ctx, rtapi.MethodUnload, &rtapi.UnloadRequest{HNN: rtapi.Handle{ID: nn}}, resp, false)
}

// DestroyEG releases the execution group's reserved cores.
func (c *Client) DestroyEG(ctx context.Context, egID uint32) error {
	resp := new(rtapi.DestroyEGResponse)
	return c.invoke(ctx, rtapi.MethodDestroyEG, &rtapi.DestroyEGRequest{HEG: rtapi.Handle{ID: egID}}, resp, false)
}

// ShmMap registers a local shared-memory object with the daemon.
func (c *Client) ShmMap(ctx context.Context, path string, mmapProt uint32) error {
	resp := new(rtapi.ShmMapResponse)
	return c.invoke(ctx, rtapi.MethodShmMap, &rtapi.ShmMapRequest{Path: path, MmapProt: mmapProt}, resp, false)
}

// ShmUnmap unregisters a shared-memory object at the daemon.
func (c *Client) ShmUnmap(ctx context.Context, path string, mmapProt uint32) error {
	resp := new(rtapi.ShmUnmapResponse)
	return c.invoke(ctx, rtapi.MethodShmUnmap, &rtapi.ShmUnmapRequest{Path: path, MmapProt: mmapProt}, resp, false)
}
