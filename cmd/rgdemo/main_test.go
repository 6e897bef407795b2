package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunDeferred(t *testing.T) {
	var out, logs bytes.Buffer
	err := run(&out, &logs, []string{"-width", "64", "-height", "32", "-images", "2", "-frames", "4"})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"render pass 0: [ZPrePass GBuffer Lighting]",
		"present=true",
		"frames executed=4 skipped=0 recreations=0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(logs.String(), "rendergraph: compiled") {
		t.Errorf("logs missing compile summary:\n%s", logs.String())
	}
}

func TestRunGraphFile(t *testing.T) {
	dot := filepath.Join(t.TempDir(), "graph.dot")
	var out, logs bytes.Buffer
	err := run(&out, &logs, []string{
		"-graph", filepath.Join("..", "..", "graphfile", "testdata", "forward.hcl"),
		"-width", "64", "-height", "32",
		"-frames", "2",
		"-log-format", "json",
		"-dot", dot,
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "render pass 0: [Geometry Composite]") {
		t.Errorf("output = %q, want the merged forward passes", out.String())
	}
	if !strings.HasPrefix(logs.String(), "{") {
		t.Errorf("logs are not JSON: %q", logs.String())
	}
	data, err := os.ReadFile(dot)
	if err != nil {
		t.Fatalf("read DOT: %v", err)
	}
	if !strings.HasPrefix(string(data), `digraph "rgdemo"`) {
		t.Errorf("DOT starts with %q", firstLine(string(data)))
	}
}

func TestRunHelp(t *testing.T) {
	var out, logs bytes.Buffer
	if err := run(&out, &logs, []string{"-h"}); err != nil {
		t.Fatalf("run(-h) error = %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("help output = %q", out.String())
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-colour"}},
		{"unknown backend", []string{"-backend", "metal"}},
		{"negative frames", []string{"-frames", "-1"}},
		{"zero width", []string{"-width", "0"}},
		{"no images", []string{"-images", "0"}},
		{"bad level", []string{"-log-level", "trace"}},
		{"bad format", []string{"-log-format", "xml"}},
		{"positional", []string{"scene.hcl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := parseArgs(tt.args, &out)
			var exit *exitError
			if !errors.As(err, &exit) {
				t.Fatalf("parseArgs(%v) error = %v, want *exitError", tt.args, err)
			}
			if exit.code != 2 {
				t.Errorf("exit code = %d, want 2", exit.code)
			}
		})
	}
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	rc := cfg.device()
	if cfg.backend != "headless" || rc.Width != 1280 || rc.Height != 720 || rc.ImageCount != 3 {
		t.Errorf("defaults = %+v, device %+v", cfg, rc)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		debug         bool
		prefix        string
	}{
		{"debug", "text", true, "time="},
		{"info", "json", false, "{"},
		{"error", "text", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l := newLogger(tt.level, tt.format, &buf)
			l.Debug("d")
			l.Info("i")
			if got := strings.Contains(buf.String(), "msg=d") || strings.Contains(buf.String(), `"msg":"d"`); got != tt.debug {
				t.Errorf("debug record logged = %v, want %v", got, tt.debug)
			}
			if !strings.HasPrefix(buf.String(), tt.prefix) {
				t.Errorf("output = %q, want prefix %q", buf.String(), tt.prefix)
			}
		})
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
