package rendergraph

import (
	"slices"
	"sort"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// BindingInfo is the descriptor layout a pass needs: for each descriptor set
// index, the ordered list of bindings in that set.
type BindingInfo map[uint32][]rhi.DescriptorBinding

// Clone returns a deep copy of b.
func (b BindingInfo) Clone() BindingInfo {
	if b == nil {
		return nil
	}
	out := make(BindingInfo, len(b))
	for set, list := range b {
		out[set] = slices.Clone(list)
	}
	return out
}

// Merge combines b and other. Sets present in only one side are taken as
// they are. A set present in both must have identical binding lists;
// otherwise ok is false and b is returned unchanged. Neither input is
// modified.
func (b BindingInfo) Merge(other BindingInfo) (merged BindingInfo, ok bool) {
	for set, list := range other {
		mine, exists := b[set]
		if exists && !slices.Equal(mine, list) {
			return b, false
		}
	}
	merged = b.Clone()
	if merged == nil && len(other) > 0 {
		merged = make(BindingInfo, len(other))
	}
	for set, list := range other {
		if _, exists := merged[set]; !exists {
			merged[set] = slices.Clone(list)
		}
	}
	return merged, true
}

// Equal reports whether b and other declare the same sets and bindings.
func (b BindingInfo) Equal(other BindingInfo) bool {
	if len(b) != len(other) {
		return false
	}
	for set, list := range b {
		o, ok := other[set]
		if !ok || !slices.Equal(list, o) {
			return false
		}
	}
	return true
}

// Sets returns the declared set indices in ascending order.
func (b BindingInfo) Sets() []uint32 {
	sets := make([]uint32, 0, len(b))
	for set := range b {
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i] < sets[j] })
	return sets
}

// SetCount returns one past the highest declared set index. Pipeline layouts
// need a layout for every index below it, declared or not.
func (b BindingInfo) SetCount() uint32 {
	var n uint32
	for set := range b {
		if set+1 > n {
			n = set + 1
		}
	}
	return n
}

// Lookup returns the declaration of binding in set.
func (b BindingInfo) Lookup(set, binding uint32) (rhi.DescriptorBinding, bool) {
	for _, d := range b[set] {
		if d.Binding == binding {
			return d, true
		}
	}
	return rhi.DescriptorBinding{}, false
}

// PoolSizes sums descriptor counts per type over all sets and multiplies
// them by units. The result is ordered by descriptor type.
func (b BindingInfo) PoolSizes(units uint32) []rhi.DescriptorPoolSize {
	counts := make(map[rhi.DescriptorType]uint32)
	for _, list := range b {
		for _, d := range list {
			c := d.Count
			if c == 0 {
				c = 1
			}
			counts[d.Type] += c
		}
	}
	sizes := make([]rhi.DescriptorPoolSize, 0, len(counts))
	for t, c := range counts {
		sizes = append(sizes, rhi.DescriptorPoolSize{Type: t, Count: c * units})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Type < sizes[j].Type })
	return sizes
}
