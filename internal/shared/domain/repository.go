package domain

import "errors"

// ErrConcurrentModification is returned when optimistic locking detects that
// an aggregate was modified by another process.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ErrNotFound is returned by repositories when a tenant-scoped lookup finds
// nothing. An entity that exists under another tenant is still ErrNotFound.
var ErrNotFound = errors.New("entity not found")
