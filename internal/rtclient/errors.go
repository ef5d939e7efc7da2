package rtclient

import "fmt"

// unavailableError signals that the daemon (or its socket) is unreachable.
// The message carries a reachability hint for the operator.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates the daemon is unreachable.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

// daemonError carries a non-OK application status returned by the daemon,
// or a transport failure on a single call.
type daemonError struct {
	op      string
	code    int32
	details string
}

func (e daemonError) Error() string {
	return fmt.Sprintf("%s failed: daemon status %d: %s", e.op, e.code, e.details)
}

// IsDaemonError reports whether err carries a daemon status code.
func IsDaemonError(err error) bool {
	_, ok := err.(daemonError)
	return ok
}

// DaemonStatusCode returns the daemon status code carried by err, or -1.
func DaemonStatusCode(err error) int32 {
	if de, ok := err.(daemonError); ok {
		return de.code
	}
	return -1
}

// brokenStreamError signals a failed write or close during the streamed
// load call. A partially streamed load is abandoned, never resumed.
type brokenStreamError struct{ op string }

func (e brokenStreamError) Error() string { return e.op + " failure - broken stream" }

// IsBrokenStream reports whether err indicates a broken load stream.
func IsBrokenStream(err error) bool {
	_, ok := err.(brokenStreamError)
	return ok
}
