// Package storage names and uploads export artifacts. Object names are
// versioned, never overwritten: re-exporting the same expense lands at a new
// timestamped name and prior artifacts stay immutable.
package storage

import "context"

// ObjectStorage is the narrow object-store boundary. Put is all-or-nothing:
// a failed upload never leaves a partially visible object, and the returned
// URL is directly fetchable by an end user.
type ObjectStorage interface {
	Put(ctx context.Context, objectName string, data []byte) (string, error)
}
