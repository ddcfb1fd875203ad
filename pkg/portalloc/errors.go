package portalloc

import "fmt"

// ResourceError indicates that the operating system refused to provide a
// resource, such as a listening port.
type ResourceError struct {
	// Resource names what was being acquired.
	Resource string
	// Err is the underlying OS error.
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("unable to acquire %s: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
