package rendergraph

import "errors"

// Build errors, returned by Builder and Compile.
var (
	// ErrDuplicatePass is returned when a pass name is registered twice.
	ErrDuplicatePass = errors.New("rendergraph: duplicate pass name")

	// ErrNilExecutor is returned when a pass setup callback returns nil.
	ErrNilExecutor = errors.New("rendergraph: pass setup returned a nil executor")

	// ErrGraphCompiled is returned when the graph is mutated or compiled
	// after a successful Compile.
	ErrGraphCompiled = errors.New("rendergraph: graph is already compiled")

	// ErrMultiplePresentFramebuffers is returned when one compiled render pass
	// would need more than one present framebuffer.
	ErrMultiplePresentFramebuffers = errors.New("rendergraph: more than one present framebuffer in a compiled render pass")

	// ErrUndeclaredBinding is returned when a read resource is bound to a
	// set or binding its pass did not declare in its BindingInfo.
	ErrUndeclaredBinding = errors.New("rendergraph: resource bound to an undeclared binding")

	// ErrNotAttachable is returned when a resource that is not an image is
	// used as a framebuffer attachment.
	ErrNotAttachable = errors.New("rendergraph: resource cannot be used as an attachment")

	// ErrNotBindable is returned when a resource kind cannot back a descriptor.
	ErrNotBindable = errors.New("rendergraph: resource cannot be bound as a descriptor")

	// ErrBufferRange is returned when a buffer description selects bytes
	// past the end of its buffer.
	ErrBufferRange = errors.New("rendergraph: descriptor range exceeds buffer size")
)

// Frame errors, returned by Execute.
var (
	// ErrNotCompiled is returned by Execute before a successful Compile.
	ErrNotCompiled = errors.New("rendergraph: graph is not compiled")

	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("rendergraph: graph has been destroyed")
)
