package rhi

import (
	"errors"
	"strings"
	"testing"
)

// resetRegistry clears all registered backends for test isolation.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends = make(map[string]BackendFactory)
}

func TestRegisterAndOpen(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	var gotCfg Config
	Register("test", func(cfg Config) (Device, error) {
		gotCfg = cfg
		return nil, nil
	})

	cfg := DefaultConfig()
	cfg.Width = 640
	if _, err := Open("test", cfg); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if gotCfg.Width != 640 {
		t.Errorf("factory got Width %d, want 640", gotCfg.Width)
	}
}

func TestOpenUnknown(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	_, err := Open("missing", DefaultConfig())
	if err == nil {
		t.Fatal("Open(missing) returned nil error")
	}
	if !strings.Contains(err.Error(), "forgotten import") {
		t.Errorf("error %q lacks import hint", err)
	}
}

func TestOpenFactoryError(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	Register("broken", func(Config) (Device, error) { return nil, ErrDeviceLost })
	_, err := Open("broken", DefaultConfig())
	if !errors.Is(err, ErrDeviceLost) {
		t.Errorf("Open() error = %v, want ErrDeviceLost", err)
	}
}

func TestMustOpenPanics(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	defer func() {
		if recover() == nil {
			t.Error("MustOpen did not panic for unknown backend")
		}
	}()
	MustOpen("missing", DefaultConfig())
}

func TestRegisterPanics(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	tests := []struct {
		name string
		fn   func()
	}{
		{"nil factory", func() { Register("nil", nil) }},
		{"duplicate", func() {
			f := func(Config) (Device, error) { return nil, nil }
			Register("dup", f)
			Register("dup", f)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", tt.name)
				}
			}()
			tt.fn()
		})
	}
}

func TestBackendsSortedAndCount(t *testing.T) {
	resetRegistry()
	defer resetRegistry()

	f := func(Config) (Device, error) { return nil, nil }
	Register("vulkan", f)
	Register("headless", f)
	Register("noop", f)

	got := Backends()
	want := []string{"headless", "noop", "vulkan"}
	if len(got) != len(want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backends()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Count() != 3 {
		t.Errorf("Count() = %d, want 3", Count())
	}
	if !IsRegistered("noop") {
		t.Error("IsRegistered(noop) = false")
	}

	Unregister("noop")
	Unregister("never-registered")
	if IsRegistered("noop") {
		t.Error("IsRegistered(noop) = true after Unregister")
	}
	if Count() != 2 {
		t.Errorf("Count() = %d, want 2", Count())
	}
}
