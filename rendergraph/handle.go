package rendergraph

import "fmt"

// ResourceID indexes a resource node of one RenderGraph. It is the untyped
// form of Handle, used where resources of different kinds are listed together.
type ResourceID uint32

// InvalidID is the sentinel ResourceID.
const InvalidID ResourceID = ResourceID(^uint32(0))

// IsValid reports whether id is not the sentinel.
func (id ResourceID) IsValid() bool { return id != InvalidID }

// String returns "#n" or "#invalid".
func (id ResourceID) String() string {
	if !id.IsValid() {
		return "#invalid"
	}
	return fmt.Sprintf("#%d", uint32(id))
}

// Handle identifies a resource of physical type T for the lifetime of one
// RenderGraph. Handles are plain values and may be copied freely.
type Handle[T Physical] struct {
	id ResourceID
}

// InvalidHandle returns the sentinel handle for T.
func InvalidHandle[T Physical]() Handle[T] {
	return Handle[T]{id: InvalidID}
}

// IsValid reports whether h is not the sentinel.
func (h Handle[T]) IsValid() bool { return h.id.IsValid() }

// ID returns the untyped resource id.
func (h Handle[T]) ID() ResourceID { return h.id }

// String implements fmt.Stringer.
func (h Handle[T]) String() string { return h.id.String() }
