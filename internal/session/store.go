package session

import "context"

// Store persists sessions as whole records keyed by ID.
//
// Save is an atomic overwrite guarded by Version: it fails with ErrConflict
// when the stored record's version differs from s.Version, and on success
// sets s.Version to the new stored version. A failed Save leaves the stored
// record untouched. Load and Save never share memory with the caller.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
