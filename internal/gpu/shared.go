package gpu

import (
	"errors"
	"fmt"
	"sync"
)

// Errors returned by Shared.
var (
	ErrAlreadyAcquired = errors.New("gpu: shared object already acquired by compute")
	ErrNotAcquired     = errors.New("gpu: shared object not acquired by compute")
)

// Flusher is a raster context that can be drained to idle.
type Flusher interface {
	Finish() error
}

// Shared is a buffer used by both the raster and the compute pipeline.
// Raster owns it by default; compute access must be bracketed by Acquire
// and Release.
type Shared struct {
	mu       sync.Mutex
	buf      Buffer
	acquired bool
	acquires uint64
}

// NewShared wraps buf.
func NewShared(buf Buffer) *Shared { return &Shared{buf: buf} }

// Buffer returns the wrapped buffer.
func (s *Shared) Buffer() Buffer { return s.buf }

// Acquired reports whether compute currently owns s.
func (s *Shared) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Acquisitions returns how many times s has been acquired.
func (s *Shared) Acquisitions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

func (s *Shared) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return ErrAlreadyAcquired
	}
	s.acquired = true
	s.acquires++
	return nil
}

// Release returns s to the raster pipeline.
func (s *Shared) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return ErrNotAcquired
	}
	s.acquired = false
	return nil
}

// Acquire flushes every raster context to idle and then hands objs to
// compute. On failure nothing is acquired.
func Acquire(flush []Flusher, objs ...*Shared) error {
	for i, f := range flush {
		if f == nil {
			continue
		}
		if err := f.Finish(); err != nil {
			return fmt.Errorf("flush raster context %d: %w", i, err)
		}
	}
	for i, s := range objs {
		if err := s.acquire(); err != nil {
			for _, prev := range objs[:i] {
				_ = prev.Release()
			}
			return err
		}
	}
	return nil
}

// Release hands objs back to raster. All objects are released even when
// one fails; the first error is returned.
func Release(objs ...*Shared) error {
	var first error
	for _, s := range objs {
		if err := s.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
