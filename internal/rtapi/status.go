package rtapi

// Daemon status codes carried in every response. Only the codes this client
// inspects are named; everything else is passed through verbatim.
const (
	CodeOK int32 = 0

	// CodeInferCompletedWithNumErr means the inference completed but produced
	// NaN/Inf values. Treated as success: a data-quality event, not a
	// protocol failure.
	CodeInferCompletedWithNumErr int32 = 1004
)

// Status is the two-level application status embedded in daemon responses.
type Status struct {
	Code    int32  `json:"code"`
	Details string `json:"details,omitempty"`
}

// OK reports whether the status denotes success.
func (s Status) OK() bool { return s.Code == CodeOK }
