package rtapi

// Handle is a daemon-assigned identifier for an execution group or a loaded
// model. Which one depends on the field it travels in.
type Handle struct {
	ID uint32 `json:"id"`
}

// WithStatus is embedded by every response message.
type WithStatus struct {
	Status Status `json:"status"`
}

// RespStatus returns the embedded daemon status.
func (w *WithStatus) RespStatus() Status { return w.Status }

// SetRespStatus overwrites the embedded daemon status.
func (w *WithStatus) SetRespStatus(s Status) { w.Status = s }

type CreateEGRequest struct {
	// Requested core count. Absent means "daemon default".
	NCCount *uint32 `json:"nc_count,omitempty"`
}

type CreateEGResponse struct {
	WithStatus
	HEG     Handle `json:"h_eg"`
	NCCount uint32 `json:"nc_count"`
}

// ModelParams are daemon-side tunables supplied once at load time.
type ModelParams struct {
	TimeoutSec uint32 `json:"timeout"`
	MaxInfer   uint32 `json:"ninfer"`
}

// LoadRequest is one frame of the client-streamed load call. Exactly one
// field is set per frame; the daemon expects handle, size, params, then
// executable chunks, in that order.
type LoadRequest struct {
	HEG         *Handle      `json:"h_eg,omitempty"`
	ExecSize    *uint64      `json:"exec_size,omitempty"`
	ModelParams *ModelParams `json:"model_params,omitempty"`
	Chunk       []byte       `json:"chunk,omitempty"`
}

type LoadResponse struct {
	WithStatus
	HNN Handle `json:"h_nn"`
}

type StartRequest struct {
	HNN Handle `json:"h_nn"`
}

type StartResponse struct {
	WithStatus
}

type StopRequest struct {
	HNN Handle `json:"h_nn"`
}

type StopResponse struct {
	WithStatus
}

type UnloadRequest struct {
	HNN Handle `json:"h_nn"`
}

type UnloadResponse struct {
	WithStatus
}

type DestroyEGRequest struct {
	HEG Handle `json:"h_eg"`
}

type DestroyEGResponse struct {
	WithStatus
}

// InferIO carries one tensor, either inline in Buf or by reference to a
// shared-memory segment both sides have mapped.
type InferIO struct {
	Name    string `json:"name"`
	Buf     []byte `json:"buf,omitempty"`
	ShmPath string `json:"shm_path,omitempty"`
}

// InferRequest is shared by the synchronous infer call and infer_post.
// ShmOFMap asks the daemon to place outputs into shared memory instead of
// the inline response; infer_post never sets it.
type InferRequest struct {
	HNN      Handle    `json:"h_nn"`
	IFMap    []InferIO `json:"ifmap"`
	ShmOFMap []InferIO `json:"shm_ofmap,omitempty"`
}

type InferResponse struct {
	WithStatus
	OFMap []InferIO `json:"ofmap"`
}

type InferPostResponse struct {
	WithStatus
	Cookie uint64 `json:"cookie"`
}

type InferWaitRequest struct {
	Cookie uint64 `json:"cookie"`
}

type ShmMapRequest struct {
	Path     string `json:"path"`
	MmapProt uint32 `json:"mmap_prot"`
}

type ShmMapResponse struct {
	WithStatus
}

type ShmUnmapRequest struct {
	Path     string `json:"path"`
	MmapProt uint32 `json:"mmap_prot"`
}

type ShmUnmapResponse struct {
	WithStatus
}
