package map_pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned by TryAcquireOrCreate when the key has no
	// renderer yet and every worker slot is busy.
	ErrPoolExhausted = errors.New("map pool exhausted")

	// ErrWorkerUnavailable marks an acquisition or render that raced a
	// worker exit: the worker retired between being looked up and taking
	// the request. The key can be re-acquired immediately.
	ErrWorkerUnavailable = errors.New("render worker is gone")

	// ErrPoolClosed is returned for any acquisition after Close.
	ErrPoolClosed = errors.New("map pool is closed")
)

// ConstructionError reports that building a renderer failed. The failure is
// recoverable: the pool keeps no entry for the key and a later acquisition
// constructs from scratch.
type ConstructionError struct {
	Key string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct renderer %s: %v", keyDigest(e.Key), e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
