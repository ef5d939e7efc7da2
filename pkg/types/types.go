package types

// Executable represents a discoverable compiled accelerator program on disk.
type Executable struct {
	// Stable identifier for the program.
	// example: resnet50-b1
	ID string `json:"id"`
	// Human-friendly name.
	Name string `json:"name"`
	// Absolute path to the compiled program file on disk.
	Path string `json:"path"`
	// Size of the program file in bytes.
	SizeBytes int64 `json:"size_bytes"`
}

// TensorSpec describes one named tensor slot of a loaded model.
type TensorSpec struct {
	Name      string `json:"name"`
	SizeBytes int    `json:"size_bytes"`
}

// Tensor is a named byte buffer exchanged with the daemon. The caller owns
// Data; for outputs it must be pre-sized to the tensor's byte length.
type Tensor struct {
	Name string
	Data []byte
}

// SpecsOf projects the specs of a tensor slice, preserving order.
func SpecsOf(tensors []Tensor) []TensorSpec {
	out := make([]TensorSpec, 0, len(tensors))
	for _, t := range tensors {
		out = append(out, TensorSpec{Name: t.Name, SizeBytes: len(t.Data)})
	}
	return out
}

// Sizes returns the byte sizes of specs, preserving order.
func Sizes(specs []TensorSpec) []int {
	out := make([]int, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.SizeBytes)
	}
	return out
}
