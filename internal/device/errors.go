package device

import "fmt"

// notInitializedError signals use of a group before Initialize succeeded.
type notInitializedError struct{}

func (notInitializedError) Error() string { return "execution group is not initialized" }

// IsNotInitialized reports whether err indicates an uninitialized group.
func IsNotInitialized(err error) bool {
	_, ok := err.(notInitializedError)
	return ok
}

// modelNotLoadedError signals use of a model id this group never loaded or
// has already retired.
type modelNotLoadedError struct{ nn uint32 }

func (e modelNotLoadedError) Error() string {
	return fmt.Sprintf("model %d is not loaded on this execution group", e.nn)
}

// IsModelNotLoaded reports whether err indicates a missing/retired model id.
func IsModelNotLoaded(err error) bool {
	_, ok := err.(modelNotLoadedError)
	return ok
}
