package rtapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the daemon's runtime-management gRPC service.
const ServiceName = "nrt.runtime_v1"

// Method names as they appear on the wire.
const (
	MethodCreateEG  = "create_eg"
	MethodLoad      = "load"
	MethodStart     = "start"
	MethodStop      = "stop"
	MethodUnload    = "unload"
	MethodDestroyEG = "destroy_eg"
	MethodInfer     = "infer"
	MethodInferPost = "infer_post"
	MethodInferWait = "infer_wait"
	MethodShmMap    = "shm_map"
	MethodShmUnmap  = "shm_unmap"
)

// MethodPath returns the full gRPC method path for a daemon operation.
func MethodPath(method string) string { return "/" + ServiceName + "/" + method }

// LoadStreamDesc describes the client-streamed load call.
var LoadStreamDesc = grpc.StreamDesc{
	StreamName:    MethodLoad,
	ClientStreams: true,
}

// LoadServerStream is the server-side view of one load call.
type LoadServerStream interface {
	Recv() (*LoadRequest, error)
	SendAndClose(*LoadResponse) error
}

// DaemonServer is the server-side contract of the daemon service. The
// production daemon lives out of process; this interface exists so tests can
// stand up an in-process fake.
type DaemonServer interface {
	CreateEG(context.Context, *CreateEGRequest) (*CreateEGResponse, error)
	Load(LoadServerStream) error
	Start(context.Context, *StartRequest) (*StartResponse, error)
	Stop(context.Context, *StopRequest) (*StopResponse, error)
	Unload(context.Context, *UnloadRequest) (*UnloadResponse, error)
	DestroyEG(context.Context, *DestroyEGRequest) (*DestroyEGResponse, error)
	Infer(context.Context, *InferRequest) (*InferResponse, error)
	InferPost(context.Context, *InferRequest) (*InferPostResponse, error)
	InferWait(context.Context, *InferWaitRequest) (*InferResponse, error)
	ShmMap(context.Context, *ShmMapRequest) (*ShmMapResponse, error)
	ShmUnmap(context.Context, *ShmUnmapRequest) (*ShmUnmapResponse, error)
}

// RegisterDaemonServer registers impl under ServiceName on s.
func RegisterDaemonServer(s *grpc.Server, impl DaemonServer) {
	s.RegisterService(&daemonServiceDesc, impl)
}

func unaryHandler[Req any, Resp any](call func(DaemonServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		return call(srv.(DaemonServer), ctx, in)
	}
}

type loadServerStream struct {
	grpc.ServerStream
}

func (s *loadServerStream) Recv() (*LoadRequest, error) {
	m := new(LoadRequest)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *loadServerStream) SendAndClose(m *LoadResponse) error { return s.SendMsg(m) }

func loadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(DaemonServer).Load(&loadServerStream{stream})
}

var daemonServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodCreateEG, Handler: unaryHandler(DaemonServer.CreateEG)},
		{MethodName: MethodStart, Handler: unaryHandler(DaemonServer.Start)},
		{MethodName: MethodStop, Handler: unaryHandler(DaemonServer.Stop)},
		{MethodName: MethodUnload, Handler: unaryHandler(DaemonServer.Unload)},
		{MethodName: MethodDestroyEG, Handler: unaryHandler(DaemonServer.DestroyEG)},
		{MethodName: MethodInfer, Handler: unaryHandler(DaemonServer.Infer)},
		{MethodName: MethodInferPost, Handler: unaryHandler(DaemonServer.InferPost)},
		{MethodName: MethodInferWait, Handler: unaryHandler(DaemonServer.InferWait)},
		{MethodName: MethodShmMap, Handler: unaryHandler(DaemonServer.ShmMap)},
		{MethodName: MethodShmUnmap, Handler: unaryHandler(DaemonServer.ShmUnmap)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: MethodLoad, Handler: loadHandler, ClientStreams: true},
	},
	Metadata: "rtapi",
}
