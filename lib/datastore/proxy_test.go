package datastore

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestProxyIdentity(t *testing.T) {
	p := NewProxy(derivedCLID, "jets", &testDerived{})
	if p.IsDummy() || p.Name() != "jets" || p.CLID() != derivedCLID {
		t.Fatalf("unexpected identity %s", p)
	}
	if ids := p.TransientIDs(); len(ids) != 1 || ids[0] != derivedCLID {
		t.Errorf("a new proxy answers to its own type only, got %v", ids)
	}
	if !p.SetTransientID(baseCLID) || p.SetTransientID(baseCLID) {
		t.Error("SetTransientID should report whether the id was added")
	}
	if ids := p.TransientIDs(); len(ids) != 2 || ids[0] != baseCLID {
		t.Errorf("transient ids should be sorted, got %v", ids)
	}

	p.SetAlias("b")
	p.SetAlias("a")
	if a := p.Aliases(); len(a) != 2 || a[0] != "a" || a[1] != "b" {
		t.Errorf("aliases should be sorted, got %v", a)
	}
	if !p.RemoveAlias("a") || p.RemoveAlias("a") {
		t.Error("RemoveAlias should report whether the alias existed")
	}
	if p.String() != "Derived/jets" {
		t.Errorf("unexpected String() %q", p.String())
	}

	d := NewDummyProxy(77)
	if !d.IsDummy() || d.String() != "dummy(77)" || len(d.TransientIDs()) != 0 {
		t.Errorf("unexpected dummy %s", d)
	}
}

func TestProxyAccessDataLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	p := NewProxy(trackCLID, "lazy", nil, WithLoader(LoaderFunc(func(p *Proxy) (any, error) {
		loads.Add(1)
		// the loader may inspect the proxy
		return &testTrack{pt: float64(len(p.Name()))}, nil
	})))
	if p.IsValidObject() || !p.IsValid() {
		t.Fatal("proxy should be loadable but not loaded")
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := p.AccessData()
			if err != nil {
				t.Error(err)
			}
			results[i] = obj
		}(i)
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected one load, got %d", loads.Load())
	}
	for _, r := range results {
		if r != results[0] || r.(*testTrack).pt != 4 {
			t.Fatalf("all callers should see the same loaded object, got %v", results)
		}
	}
}

func TestProxyAccessDataError(t *testing.T) {
	errBroken := errors.New("broken file")
	p := NewProxy(trackCLID, "bad", nil, WithLoader(LoaderFunc(func(*Proxy) (any, error) {
		return nil, errBroken
	})))
	if _, err := p.AccessData(); !errors.Is(err, errBroken) {
		t.Errorf("expected the loader error, got %v", err)
	}
	if p.IsValidObject() {
		t.Error("a failed load must not set an object")
	}

	empty := NewProxy(trackCLID, "empty", nil)
	if obj, err := empty.AccessData(); obj != nil || err != nil {
		t.Errorf("proxy without loader should return nothing, got %v, %v", obj, err)
	}
}

func TestProxyReset(t *testing.T) {
	loader := LoaderFunc(func(*Proxy) (any, error) { return &testTrack{}, nil })
	p := NewProxy(trackCLID, "r", &testTrack{}, WithLoader(loader), WithConst())

	p.Reset(false)
	if p.IsValidObject() || p.IsConst() || p.Loader() == nil {
		t.Error("soft reset drops the object and the const flag but keeps the loader")
	}
	p.Reset(true)
	if p.Loader() != nil || p.IsValid() {
		t.Error("hard reset drops the loader too")
	}
}

func TestProxyRequestRelease(t *testing.T) {
	tests := []struct {
		name      string
		resetOnly bool
		force     bool
		want      bool
		wantObj   bool
	}{
		{"plain", false, false, true, true},
		{"reset-only", true, false, false, false},
		{"reset-only forced", true, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProxy(trackCLID, "p", &testTrack{}, WithResetOnly(tt.resetOnly))
			if got := p.RequestRelease(tt.force, false); got != tt.want {
				t.Errorf("RequestRelease() = %v, want %v", got, tt.want)
			}
			if p.IsValidObject() != tt.wantObj {
				t.Errorf("object present = %v, want %v", p.IsValidObject(), tt.wantObj)
			}
		})
	}
}

func TestProxyConcurrentRelease(t *testing.T) {
	var destroyed atomic.Int32
	p := NewProxy(trackCLID, "p", &testTrack{}, WithOnDestroy(func(*Proxy) {
		destroyed.Add(1)
	}))
	const n = 64
	for i := 0; i < n; i++ {
		p.AddRef()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Release()
		}()
	}
	wg.Wait()

	if destroyed.Load() != 1 || !p.IsDestroyed() || p.Object() != nil {
		t.Errorf("expected exactly one destroy, got %d", destroyed.Load())
	}
}
