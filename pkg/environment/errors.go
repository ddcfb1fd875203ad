package environment

import "errors"

// ErrNotBootstrapped is returned by accessors used before Bootstrap has
// completed.
var ErrNotBootstrapped = errors.New("environment not bootstrapped")

// ErrAlreadyBootstrapped is returned by Bootstrap on an environment that is
// already active. Shut it down first.
var ErrAlreadyBootstrapped = errors.New("environment already bootstrapped")
