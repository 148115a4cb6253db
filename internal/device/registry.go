package device

import (
	"errors"
	"io"

	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/status"
)

// Registry holds the device list and the current compute context.
//
// A Registry is not safe for concurrent use; it is owned by the goroutine
// that performs GPU work.
type Registry struct {
	platforms []Platform
	entries   []Entry
	current   int
	ctx       *Context
	teardown  func(*Context)
}

// NewRegistry returns a registry over platforms. The list is empty until
// the first Refresh.
func NewRegistry(platforms ...Platform) *Registry {
	return &Registry{platforms: platforms, current: -1}
}

// OnTeardown sets fn to be called with a context just before its device
// is destroyed, so that objects built on it can be released first.
func (r *Registry) OnTeardown(fn func(*Context)) { r.teardown = fn }

// Refresh enumerates every platform and replaces the stored list when it
// differs from the previous one. It reports whether the list changed.
//
// A platform that fails to enumerate is skipped. The current device keeps
// its context if it is still listed, possibly at a new index; otherwise the
// context is closed and no device is current.
func (r *Registry) Refresh() (bool, error) {
	const op = "device.Refresh"
	if len(r.platforms) == 0 {
		return false, status.Wrap(status.KindDeviceEnumeration, op, ErrNoPlatforms)
	}

	var (
		entries []Entry
		errs    []error
	)
	for _, p := range r.platforms {
		adapters, err := p.Adapters()
		if err != nil {
			slogger().Warn("device: platform enumeration failed", "platform", p.Name(), "err", err)
			errs = append(errs, err)
			continue
		}
		for _, a := range adapters {
			info := a.Info()
			entries = append(entries, Entry{
				Description: info.Description(),
				Class:       info.Class,
				Platform:    p,
				Adapter:     a,
			})
		}
	}
	if len(entries) == 0 {
		return false, status.Wrap(status.KindDeviceEnumeration, op, errors.Join(append([]error{ErrNoDevice}, errs...)...))
	}
	if entriesEqual(r.entries, entries) {
		return false, nil
	}

	r.entries = entries
	if r.ctx != nil {
		r.current = -1
		for i, e := range entries {
			if e.Platform == r.ctx.Entry.Platform && e.Adapter == r.ctx.Entry.Adapter {
				r.current = i
				r.ctx.Index = i
				r.ctx.Entry = e
				break
			}
		}
		if r.current < 0 {
			r.closeContext()
		}
	}
	slogger().Debug("device: list changed", "count", len(entries))
	return true, nil
}

// SetCurrent opens entry i as the compute context. It reports whether the
// current device changed; selecting the current index again does nothing.
// On failure the current device is unchanged.
func (r *Registry) SetCurrent(i int) (bool, error) {
	const op = "device.SetCurrent"
	if i < 0 || i >= len(r.entries) {
		return false, status.Newf(status.KindInvalidArgument, op,
			"index %d outside [0, %d)", i, len(r.entries)).WithCause(ErrIndexOutOfRange)
	}
	if i == r.current && r.ctx != nil {
		return false, nil
	}

	e := r.entries[i]
	dev, err := e.Adapter.Open()
	if err != nil {
		return false, status.Wrap(status.KindResourceCreation, op, err)
	}
	r.closeContext()
	r.ctx = &Context{Index: i, Entry: e, Device: dev, Queue: gpu.NewQueue(dev)}
	r.current = i
	slogger().Info("device: selected", "index", i, "device", e.Description, "out_of_order", dev.OutOfOrder())
	return true, nil
}

func rank(c Class) int {
	switch c {
	case ClassGPU:
		return 0
	case ClassAccelerator:
		return 1
	case ClassCPU:
		return 3
	default:
		return 2
	}
}

// DefaultIndex returns the preferred entry: the first GPU, else the first
// accelerator, else the first non-CPU device, else the first CPU.
func DefaultIndex(entries []Entry) (int, bool) {
	best, bestRank := -1, 4
	for i, e := range entries {
		if r := rank(e.Class); r < bestRank {
			best, bestRank = i, r
		}
	}
	return best, best >= 0
}

// SelectDefault makes the preferred entry current and returns its index.
func (r *Registry) SelectDefault() (int, error) {
	i, ok := DefaultIndex(r.entries)
	if !ok {
		return -1, status.Wrap(status.KindDeviceEnumeration, "device.SelectDefault", ErrNoDevice)
	}
	if _, err := r.SetCurrent(i); err != nil {
		return -1, err
	}
	return i, nil
}

// Entries returns a copy of the device list.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Descriptions returns the description of every entry.
func (r *Registry) Descriptions() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Description
	}
	return out
}

// Current returns the current index, or -1.
func (r *Registry) Current() int { return r.current }

// Context returns the current compute context, or nil.
func (r *Registry) Context() *Context { return r.ctx }

func (r *Registry) closeContext() {
	if r.ctx == nil {
		return
	}
	if r.teardown != nil {
		r.teardown(r.ctx)
	}
	r.ctx.close()
	r.ctx = nil
}

// Close destroys the current context and closes platforms that hold
// backend instances.
func (r *Registry) Close() {
	r.closeContext()
	r.current = -1
	for _, p := range r.platforms {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slogger().Warn("device: close platform", "platform", p.Name(), "err", err)
			}
		}
	}
}
