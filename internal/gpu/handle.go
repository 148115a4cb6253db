package gpu

// Handle owns one device object and releases it exactly once. The zero
// Handle is empty.
//
//	var blocks gpu.Handle[gpu.Buffer]
//	blocks.Reset(buf, dev.DestroyBuffer)
//	defer blocks.Release()
type Handle[T any] struct {
	v       T
	release func(T)
	valid   bool
}

// Own returns a Handle owning v. release is called with v on Release.
func Own[T any](v T, release func(T)) Handle[T] {
	return Handle[T]{v: v, release: release, valid: true}
}

// Get returns the owned object and whether the handle is non-empty.
func (h *Handle[T]) Get() (T, bool) { return h.v, h.valid }

// Value returns the owned object, or the zero T when empty.
func (h *Handle[T]) Value() T { return h.v }

// Valid reports whether h owns an object.
func (h *Handle[T]) Valid() bool { return h.valid }

// Release releases the owned object and empties h. Releasing an empty
// handle does nothing.
func (h *Handle[T]) Release() {
	if !h.valid {
		return
	}
	v, release := h.v, h.release
	*h = Handle[T]{}
	if release != nil {
		release(v)
	}
}

// Reset releases the current object and takes ownership of v.
func (h *Handle[T]) Reset(v T, release func(T)) {
	h.Release()
	*h = Own(v, release)
}

// Take empties h without releasing and returns the object it owned.
func (h *Handle[T]) Take() (T, bool) {
	v, ok := h.v, h.valid
	*h = Handle[T]{}
	return v, ok
}
