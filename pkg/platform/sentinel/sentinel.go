// Package sentinel holds the storage-level facts that stores report and
// services translate into domain errors. Stores may wrap them; match with
// errors.Is.
package sentinel

import "errors"

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed since it was read (version mismatch).
	ErrConflict = errors.New("conflict")
	// ErrDuplicate means a unique key such as a certificate id, content hash,
	// or open revocation slot is already taken.
	ErrDuplicate = errors.New("duplicate")
)
