package rtclient

import (
	"context"
	"fmt"

	"accelrt/internal/fastcopy"
	"accelrt/internal/rtapi"
	"accelrt/pkg/types"
)

// ShmSet names the mapped shared-memory buffers backing one model's tensor
// slots. Paths and Bufs are parallel arrays in tensor order. A nil or empty
// set means inference payloads travel inline.
//
// Buffers are not guarded against concurrent use: callers must not overlap
// two inferences that stage into the same set.
type ShmSet struct {
	InputPaths  []string
	InputBufs   [][]byte
	OutputPaths []string
	OutputBufs  [][]byte
}

// Enabled reports whether the set carries any mapped buffer.
func (s *ShmSet) Enabled() bool {
	return s != nil && (len(s.InputPaths) > 0 || len(s.OutputPaths) > 0)
}

// Infer runs one synchronous inference round trip. When set is enabled,
// input bytes are staged into the mapped buffers and the request references
// them by path; outputs are read back from the mapped output buffers.
// Otherwise payloads travel inline both ways. A numeric-anomaly status from
// the daemon is treated as success.
func (c *Client) Infer(ctx context.Context, nn uint32, inputs []types.Tensor, outputs []types.Tensor, set *ShmSet) error {
	req := &rtapi.InferRequest{HNN: rtapi.Handle{ID: nn}}
	for i := range inputs {
		io := rtapi.InferIO{Name: inputs[i].Name}
		if set.Enabled() {
			io.ShmPath = set.InputPaths[i]
			fastcopy.Copy(set.InputBufs[i], inputs[i].Data)
		} else {
			io.Buf = inputs[i].Data
		}
		req.IFMap = append(req.IFMap, io)
	}
	if set.Enabled() {
		for i := range outputs {
			req.ShmOFMap = append(req.ShmOFMap, rtapi.InferIO{Name: outputs[i].Name, ShmPath: set.OutputPaths[i]})
		}
	}
	resp := new(rtapi.InferResponse)
	if err := c.invoke(ctx, rtapi.MethodInfer, req, resp, true); err != nil {
		return err
	}
	if set.Enabled() {
		for i := range outputs {
			resp.OFMap = append(resp.OFMap, rtapi.InferIO{Name: outputs[i].Name, Buf: set.OutputBufs[i]})
		}
	}
	return copyOutputTensors(outputs, resp.OFMap)
}

// InferPost submits one inference without waiting for completion and
// returns the daemon's correlation cookie. Payloads always travel inline;
// there is no shared-memory path for posts.
func (c *Client) InferPost(ctx context.Context, nn uint32, inputs []types.Tensor) (uint64, error) {
	req := &rtapi.InferRequest{HNN: rtapi.Handle{ID: nn}}
	for i := range inputs {
		req.IFMap = append(req.IFMap, rtapi.InferIO{Name: inputs[i].Name, Buf: inputs[i].Data})
	}
	resp := new(rtapi.InferPostResponse)
	if err := c.invoke(ctx, rtapi.MethodInferPost, req, resp, false); err != nil {
		return 0, err
	}
	return resp.Cookie, nil
}

// InferWait blocks until the inference correlated by cookie completes and
// copies its outputs out. The cookie is single-use; presenting it again is
// a daemon error. A numeric-anomaly status is treated as success.
func (c *Client) InferWait(ctx context.Context, cookie uint64, outputs []types.Tensor) error {
	req := &rtapi.InferWaitRequest{Cookie: cookie}
	resp := new(rtapi.InferResponse)
	if err := c.invoke(ctx, rtapi.MethodInferWait, req, resp, true); err != nil {
		return err
	}
	return copyOutputTensors(outputs, resp.OFMap)
}

// copyOutputTensors fills the caller's output tensors from the response
// feature maps, matching by name.
func copyOutputTensors(outputs []types.Tensor, ofmap []rtapi.InferIO) error {
	byName := make(map[string][]byte, len(ofmap))
	for _, io := range ofmap {
		byName[io.Name] = io.Buf
	}
	for i := range outputs {
		buf, ok := byName[outputs[i].Name]
		if !ok {
			return fmt.Errorf("tensor name %q not found in infer response", outputs[i].Name)
		}
		dst := outputs[i].Data
		if len(buf) < len(dst) {
			return fmt.Errorf("unexpected tensor size for %q: source %d, target %d",
				outputs[i].Name, len(buf), len(dst))
		}
		fastcopy.Copy(dst, buf[:len(dst)])
	}
	return nil
}
