package rendergraph

import (
	"fmt"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Registry is the read side of a RenderGraph. Setup callbacks use it to look
// up passes and resources; executors use it at record time to reach the
// physical objects behind their handles.
//
// Lookups with an unknown name or an invalid handle are programming errors
// and panic. LookupHandle is the one non-panicking lookup; use it when a
// name is optional.
type Registry struct {
	g       *RenderGraph
	current *PassNode

	// Record-time state, set while an executor runs.
	group   *CompiledRenderPass
	subpass int
}

// CurrentPass returns the pass being built or recorded, or nil.
func (r *Registry) CurrentPass() *PassNode { return r.current }

// GetPassNode returns the pass registered as name.
func (r *Registry) GetPassNode(name string) *PassNode {
	p, ok := r.g.passByName[name]
	if !ok {
		panic(fmt.Sprintf("rendergraph: unknown pass %q", name))
	}
	return p
}

// GetResourceHandle returns the id of the resource registered as name.
func (r *Registry) GetResourceHandle(name string) ResourceID {
	id, ok := r.g.resourceByName[name]
	if !ok {
		panic(fmt.Sprintf("rendergraph: unknown resource %q", name))
	}
	return id
}

// GetResourceNode returns the node of id.
func (r *Registry) GetResourceNode(id ResourceID) *ResourceNode {
	if !id.IsValid() || int(id) >= len(r.g.resources) {
		panic(fmt.Sprintf("rendergraph: invalid resource handle %s", id))
	}
	return r.g.resources[id]
}

// GetVirtualResource returns the virtual resource behind h.
func GetVirtualResource[T Physical](r *Registry, h Handle[T]) *VirtualResource[T] {
	node := r.GetResourceNode(h.id)
	v, ok := node.virtual.(*VirtualResource[T])
	if !ok {
		var zero T
		panic(fmt.Sprintf("rendergraph: resource %q is a %s, not a %s", node.name, node.kind, zero.Kind()))
	}
	return v
}

// GetResource returns the physical object behind h. ok is false if the
// resource was released by culling.
func GetResource[T Physical](r *Registry, h Handle[T]) (T, bool) {
	return GetVirtualResource(r, h).Physical()
}

// LookupHandle returns the typed handle of the resource registered as name.
// ok is false if name is unknown or of another kind.
func LookupHandle[T Physical](r *Registry, name string) (Handle[T], bool) {
	id, ok := r.g.resourceByName[name]
	if !ok {
		return InvalidHandle[T](), false
	}
	if _, ok := r.g.resources[id].virtual.(*VirtualResource[T]); !ok {
		return InvalidHandle[T](), false
	}
	return Handle[T]{id: id}, true
}

// RegisterResourceNode adds a resource node for object under name and
// returns its handle. Registering an existing name returns the existing
// handle; object must then be the object already registered.
func RegisterResourceNode[T Physical](r *Registry, name string, desc Description, object T) Handle[T] {
	g := r.g
	if id, ok := g.resourceByName[name]; ok {
		node := g.resources[id]
		v, ok := node.virtual.(*VirtualResource[T])
		if !ok {
			panic(fmt.Sprintf("rendergraph: resource %q is a %s, not a %s", name, node.kind, object.Kind()))
		}
		if cur, live := v.Physical(); live && Physical(cur) != Physical(object) {
			panic(fmt.Sprintf("rendergraph: resource %q registered again with a different object", name))
		}
		return Handle[T]{id: id}
	}

	id := ResourceID(len(g.resources))
	node := &ResourceNode{
		name:    name,
		id:      id,
		kind:    object.Kind(),
		virtual: newVirtualResource(desc, object),
	}
	g.dag.AddNode(node)
	g.resources = append(g.resources, node)
	g.resourceByName[name] = id
	g.logger().Debug("rendergraph: resource registered", "name", name, "kind", node.kind, "id", uint32(id))
	return Handle[T]{id: id}
}

// RegisterPassReadingDependency adds the edge res -> pass.
func (r *Registry) RegisterPassReadingDependency(res ResourceID, pass *PassNode) {
	r.g.dag.AddEdge(r.GetResourceNode(res), pass)
}

// RegisterPassWritingDependency adds the edge pass -> res.
func (r *Registry) RegisterPassWritingDependency(pass *PassNode, res ResourceID) {
	r.g.dag.AddEdge(pass, r.GetResourceNode(res))
}

// DrawMeshes records the draws of the current pass: for each mesh it binds
// the per-mesh descriptor sets, the vertex buffer and the index buffer, then
// issues an indexed or plain draw. It is meant to be called from an
// executor.
func (r *Registry) DrawMeshes(cmd rhi.CommandBuffer) {
	p := r.current
	if p == nil || r.group == nil {
		panic("rendergraph: DrawMeshes called outside an executor")
	}
	var sets [][]boundSet
	if r.subpass < len(r.group.meshSets) {
		sets = r.group.meshSets[r.subpass]
	}
	for i, m := range p.meshes {
		if i < len(sets) {
			for _, bs := range sets[i] {
				cmd.BindDescriptorSets(r.group.layout, bs.index, []rhi.DescriptorSet{bs.set})
			}
		}
		vb, ok := GetResource(r, m.Vertex)
		if !ok {
			continue
		}
		cmd.BindVertexBuffer(0, vb.Buffer, 0)
		if m.Index.IsValid() {
			ib, ok := GetResource(r, m.Index)
			if !ok {
				continue
			}
			cmd.BindIndexBuffer(ib.Buffer, 0, ib.Type)
			cmd.DrawIndexed(ib.Count, m.Instances, 0, 0, 0)
			continue
		}
		cmd.Draw(vb.Count, m.Instances, 0, 0)
	}
}

// enter and leave bracket one executor call.
func (r *Registry) enter(group *CompiledRenderPass, subpass int, p *PassNode) {
	r.group, r.subpass, r.current = group, subpass, p
}

func (r *Registry) leave() {
	r.group, r.subpass, r.current = nil, 0, nil
}
