package lockcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/lockcache/registry"
)

var (
	// ErrStoreUnavailable wraps every connection or command failure reported
	// by the store. The writer never retries; callers decide.
	ErrStoreUnavailable = errors.New("lockcache: store unavailable")

	// ErrLockWaitInterrupted is returned when the wait for a cache lock was
	// cancelled. The lock is never left held by the interrupted caller.
	ErrLockWaitInterrupted = errors.New("lockcache: interrupted while waiting for cache lock")

	// ErrLockWaitTimeout is the MaxLockWait flavor of ErrLockWaitInterrupted.
	ErrLockWaitTimeout = fmt.Errorf("%w: max lock wait exceeded", ErrLockWaitInterrupted)

	ErrInvalidArgument = errors.New("lockcache: invalid argument")

	// ErrInvalidCacheName is re-exported from registry for convenience.
	ErrInvalidCacheName = registry.ErrInvalidCacheName
)

// OpError records the writer operation and cache a failure belongs to.
type OpError struct {
	Op    string
	Cache string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("lockcache: %s %q: %v", e.Op, e.Cache, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, cache string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Cache: cache, Err: err}
}

// unavailable tags a raw store error as ErrStoreUnavailable.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
