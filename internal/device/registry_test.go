package device

import (
	"errors"
	"testing"

	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/status"
)

type fakeAdapter struct {
	info    Info
	openErr error
	opened  int
}

func (a *fakeAdapter) Info() Info { return a.info }

func (a *fakeAdapter) Open() (gpu.Device, error) {
	if a.openErr != nil {
		return nil, a.openErr
	}
	a.opened++
	return gpu.NewSoftwareDevice(a.info.Name, 1), nil
}

type fakePlatform struct {
	name     string
	adapters []Adapter
	err      error
}

func (p *fakePlatform) Name() string                 { return p.name }
func (p *fakePlatform) Adapters() ([]Adapter, error) { return p.adapters, p.err }

func TestDescription(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{"Radeon", ClassGPU, "Vulkan"}, "Radeon (GPU) (Vulkan)"},
		{Info{"", ClassCPU, "go1.25"}, "[unnamed] (CPU) (go1.25)"},
		{Info{"FPGA", ClassAccelerator, ""}, "FPGA (Special Purpose Accelerator) ([unknown])"},
		{Info{"Mystery", ClassUnknown, "1.0"}, "Mystery ([unknown]) (1.0)"},
	}
	for _, tt := range tests {
		if got := tt.info.Description(); got != tt.want {
			t.Errorf("Description() = %q, want %q", got, tt.want)
		}
	}
}

func TestRefreshDetectsChanges(t *testing.T) {
	gpuA := &fakeAdapter{info: Info{"gpu", ClassGPU, "v1"}}
	cpuA := &fakeAdapter{info: Info{"cpu", ClassCPU, "v1"}}
	p := &fakePlatform{name: "fake", adapters: []Adapter{gpuA}}
	r := NewRegistry(p)
	defer r.Close()

	changed, err := r.Refresh()
	if err != nil || !changed {
		t.Fatalf("first Refresh = %v, %v, want true, nil", changed, err)
	}
	changed, err = r.Refresh()
	if err != nil || changed {
		t.Errorf("unchanged Refresh = %v, %v, want false, nil", changed, err)
	}

	p.adapters = []Adapter{gpuA, cpuA}
	changed, err = r.Refresh()
	if err != nil || !changed {
		t.Errorf("grown Refresh = %v, %v, want true, nil", changed, err)
	}
	if got := r.Descriptions(); len(got) != 2 || got[1] != "cpu (CPU) (v1)" {
		t.Errorf("Descriptions = %v", got)
	}

	// Same description, different device handle.
	p.adapters = []Adapter{gpuA, &fakeAdapter{info: cpuA.info}}
	if changed, _ := r.Refresh(); !changed {
		t.Error("Refresh with a new handle reported no change")
	}
}

func TestRefreshErrors(t *testing.T) {
	if _, err := NewRegistry().Refresh(); !errors.Is(err, status.DeviceEnumerationFailure) || !errors.Is(err, ErrNoPlatforms) {
		t.Errorf("no platforms: err = %v", err)
	}

	broken := &fakePlatform{name: "broken", err: errors.New("driver missing")}
	if _, err := NewRegistry(broken).Refresh(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("no devices: err = %v", err)
	}

	ok := &fakePlatform{name: "ok", adapters: []Adapter{&fakeAdapter{info: Info{"cpu", ClassCPU, "1"}}}}
	r := NewRegistry(broken, ok)
	if changed, err := r.Refresh(); err != nil || !changed {
		t.Errorf("one broken platform: %v, %v", changed, err)
	}
}

func TestSetCurrent(t *testing.T) {
	a := &fakeAdapter{info: Info{"a", ClassCPU, "1"}}
	b := &fakeAdapter{info: Info{"b", ClassGPU, "1"}}
	r := NewRegistry(&fakePlatform{name: "fake", adapters: []Adapter{a, b}})
	defer r.Close()
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}

	for _, i := range []int{-1, 2, 100} {
		_, err := r.SetCurrent(i)
		if !errors.Is(err, status.InvalidArgument) || !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("SetCurrent(%d): err = %v, want InvalidArgument", i, err)
		}
		if r.Current() != -1 {
			t.Errorf("SetCurrent(%d) changed current to %d", i, r.Current())
		}
	}

	var torn []string
	r.OnTeardown(func(c *Context) { torn = append(torn, c.Entry.Description) })

	if changed, err := r.SetCurrent(0); err != nil || !changed {
		t.Fatalf("SetCurrent(0) = %v, %v", changed, err)
	}
	if changed, err := r.SetCurrent(0); err != nil || changed {
		t.Errorf("repeat SetCurrent(0) = %v, %v, want no-op", changed, err)
	}
	if a.opened != 1 {
		t.Errorf("adapter opened %d times, want 1", a.opened)
	}
	if changed, err := r.SetCurrent(1); err != nil || !changed {
		t.Fatalf("SetCurrent(1) = %v, %v", changed, err)
	}
	if len(torn) != 1 || torn[0] != a.info.Description() {
		t.Errorf("teardown calls = %v", torn)
	}
	if ctx := r.Context(); ctx == nil || ctx.Index != 1 || ctx.Queue == nil {
		t.Errorf("Context = %+v", ctx)
	}

	_, err := r.SetCurrent(2)
	if err == nil {
		t.Fatal("SetCurrent(2) succeeded on a 2-entry list")
	}
	if r.Current() != 1 {
		t.Errorf("current = %d after failed SetCurrent, want 1", r.Current())
	}

	a.openErr = errors.New("busy")
	if _, err := r.SetCurrent(0); !errors.Is(err, status.ResourceCreationFailure) {
		t.Errorf("open failure: err = %v", err)
	}
	if r.Current() != 1 || r.Context() == nil {
		t.Error("open failure disturbed the current device")
	}
}

func TestDefaultIndex(t *testing.T) {
	e := func(c Class) Entry { return Entry{Class: c} }
	tests := []struct {
		name    string
		entries []Entry
		want    int
	}{
		{"gpu wins", []Entry{e(ClassCPU), e(ClassAccelerator), e(ClassGPU)}, 2},
		{"accelerator over unknown", []Entry{e(ClassUnknown), e(ClassAccelerator)}, 1},
		{"unknown over cpu", []Entry{e(ClassCPU), e(ClassUnknown)}, 1},
		{"cpu last resort", []Entry{e(ClassCPU)}, 0},
		{"first of equals", []Entry{e(ClassGPU), e(ClassGPU)}, 0},
		{"empty", nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DefaultIndex(tt.entries)
			if got != tt.want || ok != (tt.want >= 0) {
				t.Errorf("DefaultIndex = %d, %v, want %d", got, ok, tt.want)
			}
		})
	}
}

func TestRefreshKeepsCurrentDevice(t *testing.T) {
	a := &fakeAdapter{info: Info{"a", ClassCPU, "1"}}
	b := &fakeAdapter{info: Info{"b", ClassGPU, "1"}}
	p := &fakePlatform{name: "fake", adapters: []Adapter{a, b}}
	r := NewRegistry(p)
	defer r.Close()
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}
	if i, err := r.SelectDefault(); err != nil || i != 1 {
		t.Fatalf("SelectDefault = %d, %v, want 1", i, err)
	}

	p.adapters = []Adapter{b}
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}
	if r.Current() != 0 || r.Context() == nil {
		t.Errorf("current = %d after reorder, want 0", r.Current())
	}

	p.adapters = []Adapter{a}
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}
	if r.Current() != -1 || r.Context() != nil {
		t.Errorf("removed device still current (%d)", r.Current())
	}
}
