package rendergraph

import (
	"log/slog"
	"time"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// DefaultPresentName is the resource name of the swapchain image.
const DefaultPresentName = "Present"

// Option configures a RenderGraph during creation.
//
// Example:
//
//	g := rendergraph.New(dev,
//	    rendergraph.WithLabel("deferred"),
//	    rendergraph.WithFenceTimeout(time.Second))
type Option func(*options)

type options struct {
	logger       *slog.Logger
	fenceTimeout time.Duration
	presentName  string
	label        string
}

func defaultOptions() options {
	return options{
		fenceTimeout: rhi.WaitForever,
		presentName:  DefaultPresentName,
		label:        "rendergraph",
	}
}

// WithLogger sets the logger of one graph, overriding the package logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFenceTimeout bounds how long Execute waits for a frame slot. The
// default waits forever.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithPresentName renames the present-image resource node.
func WithPresentName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.presentName = name
		}
	}
}

// WithLabel sets the prefix of the debug labels given to GPU objects.
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}
