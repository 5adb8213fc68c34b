package collector

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning rejects a trigger received while a run is in
// progress. Triggers are not queued; the caller retries later.
var ErrAlreadyRunning = errors.New("collection already running")

// StorageError marks a failure of the backing store. Unlike upstream
// failures, which are absorbed into the per-symbol tally, a storage
// failure is systemic and aborts the whole run.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the run rather than be folded
// into the per-symbol tally.
func IsFatal(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
