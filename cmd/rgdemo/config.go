package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// exitError carries the exit code of a usage error.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type config struct {
	backend   string
	graph     string
	frames    int
	width     uint32
	height    uint32
	images    int
	logLevel  string
	logFormat string
	dot       string
}

// parseArgs parses the command line. It returns a nil config when -h was
// given.
func parseArgs(args []string, out io.Writer) (*config, error) {
	fs := flag.NewFlagSet("rgdemo", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, `rgdemo compiles a render graph and runs it for a number of frames.

Usage:
  rgdemo [options]

Without -graph it renders the built-in deferred scene.

Options:
`)
		fs.PrintDefaults()
	}

	var (
		backend   = fs.String("backend", "headless", "device backend: "+strings.Join(rhi.Backends(), ", "))
		graph     = fs.String("graph", "", "HCL graph file; empty renders the deferred demo scene")
		frames    = fs.Int("frames", 3, "number of frames to execute")
		width     = fs.Uint("width", 1280, "swapchain width")
		height    = fs.Uint("height", 720, "swapchain height")
		images    = fs.Int("images", 3, "swapchain image count")
		logLevel  = fs.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat = fs.String("log-format", "text", "log format: text or json")
		dot       = fs.String("dot", "", "write the graph in DOT format to this file")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil
		}
		return nil, &exitError{code: 2, msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &exitError{code: 2, msg: fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}

	cfg, err := newConfig(config{
		backend:   *backend,
		graph:     *graph,
		frames:    *frames,
		width:     uint32(*width),
		height:    uint32(*height),
		images:    *images,
		logLevel:  strings.ToLower(*logLevel),
		logFormat: strings.ToLower(*logFormat),
		dot:       *dot,
	})
	if err != nil {
		return nil, &exitError{code: 2, msg: err.Error()}
	}
	return cfg, nil
}

// newConfig validates c.
func newConfig(c config) (*config, error) {
	if !slices.Contains(rhi.Backends(), c.backend) {
		return nil, fmt.Errorf("unknown backend %q (have %s)", c.backend, strings.Join(rhi.Backends(), ", "))
	}
	if c.frames < 0 {
		return nil, fmt.Errorf("frames must not be negative, got %d", c.frames)
	}
	if c.width == 0 || c.height == 0 {
		return nil, fmt.Errorf("invalid extent %dx%d", c.width, c.height)
	}
	if c.images < 1 {
		return nil, fmt.Errorf("images must be at least 1, got %d", c.images)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q: must be debug, info, warn or error", c.logLevel)
	}
	if c.logFormat != "text" && c.logFormat != "json" {
		return nil, fmt.Errorf("invalid log-format %q: must be text or json", c.logFormat)
	}
	return &c, nil
}

func (c *config) device() rhi.Config {
	rc := rhi.DefaultConfig()
	rc.Width, rc.Height, rc.ImageCount = c.width, c.height, c.images
	return rc
}

// newLogger returns a logger writing to w. It does not touch the default
// logger.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
