// Package extrema finds the minimum and maximum sample of a 16-bit image.
package extrema

import (
	"math"
	"sync"
)

// Scan returns the smallest and largest value in pixels.
// An empty slice yields (math.MaxUint16, 0).
func Scan(pixels []uint16) (lo, hi uint16) {
	switch len(pixels) {
	case 0:
		return math.MaxUint16, 0
	case 1:
		return pixels[0], pixels[0]
	}
	// Seeding both bounds from the first sample keeps lo <= hi, so a sample
	// below lo can never also be above hi and one compare usually suffices.
	lo, hi = pixels[0], pixels[0]
	for _, p := range pixels[1:] {
		if p < lo {
			lo = p
		} else if p > hi {
			hi = p
		}
	}
	return lo, hi
}

// Scanner runs Scan in the background. A new Start supersedes any scan in
// flight, and Reset discards both in-flight and completed results, so a
// result from an earlier image is never observable.
type Scanner struct {
	mu     sync.Mutex
	gen    uint64
	done   bool
	lo, hi uint16

	// wg tracks running scans for Wait.
	wg sync.WaitGroup
}

// Start begins scanning pixels on a new goroutine. pixels must not be
// modified until the scan completes or is superseded.
func (s *Scanner) Start(pixels []uint16) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.done = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		lo, hi := Scan(pixels)
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.lo, s.hi, s.done = lo, hi, true
	}()
}

// Reset discards any pending or completed result.
func (s *Scanner) Reset() {
	s.mu.Lock()
	s.gen++
	s.done = false
	s.mu.Unlock()
}

// Result returns the most recent completed result. ok is false while a scan
// is in flight or after Reset.
func (s *Scanner) Result() (lo, hi uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lo, s.hi, s.done
}

// Wait blocks until every started scan has returned.
func (s *Scanner) Wait() { s.wg.Wait() }
