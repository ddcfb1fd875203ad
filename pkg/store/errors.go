package store

import "errors"

// ErrNotFound indicates that no document matched.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail indicates that a user with the same email exists.
var ErrDuplicateEmail = errors.New("email already registered")
