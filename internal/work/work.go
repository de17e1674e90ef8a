// Package work describes 1-3 dimensional kernel iteration spaces.
// A Dim is a global extent, an Item is one coordinate within it.
// The types are purely descriptive: backends decide how the space is
// walked (sequential loops on CPU, workgroup grids on GPU).
package work

import "fmt"

// Dim is an iteration extent with 1 to 3 dimensions.
// Dimensions are ordered slowest-varying first, so a 2D image extent
// is Dim2(height, width).
type Dim struct {
	sizes [3]int
	rank  int
}

// Dim1 returns a 1D extent.
func Dim1(x int) Dim {
	return Dim{sizes: [3]int{x, 1, 1}, rank: 1}
}

// Dim2 returns a 2D extent.
func Dim2(y, x int) Dim {
	return Dim{sizes: [3]int{y, x, 1}, rank: 2}
}

// Dim3 returns a 3D extent.
func Dim3(z, y, x int) Dim {
	return Dim{sizes: [3]int{z, y, x}, rank: 3}
}

// Rank returns the number of dimensions (1-3).
func (d Dim) Rank() int {
	return d.rank
}

// Size returns the extent of dimension i.
func (d Dim) Size(i int) int {
	return d.sizes[i]
}

// NumItems returns the total number of items in the extent.
func (d Dim) NumItems() int {
	n := 1
	for i := 0; i < d.rank; i++ {
		n *= d.sizes[i]
	}
	return n
}

// Validate checks that every dimension is positive.
func (d Dim) Validate() error {
	if d.rank < 1 || d.rank > 3 {
		return fmt.Errorf("work: invalid rank %d", d.rank)
	}
	for i := 0; i < d.rank; i++ {
		if d.sizes[i] <= 0 {
			return fmt.Errorf("work: invalid extent %v: dimension %d is %d", d, i, d.sizes[i])
		}
	}
	return nil
}

// Contains reports whether the coordinate id lies within the extent in
// every dimension.
func (d Dim) Contains(id [3]int) bool {
	for i := 0; i < d.rank; i++ {
		if id[i] < 0 || id[i] >= d.sizes[i] {
			return false
		}
	}
	return true
}

func (d Dim) String() string {
	switch d.rank {
	case 1:
		return fmt.Sprintf("[%d]", d.sizes[0])
	case 2:
		return fmt.Sprintf("[%d %d]", d.sizes[0], d.sizes[1])
	default:
		return fmt.Sprintf("[%d %d %d]", d.sizes[0], d.sizes[1], d.sizes[2])
	}
}

// Item is a single coordinate within a global extent.
type Item struct {
	id     [3]int
	global Dim
}

// NewItem builds an item at the given coordinate of the extent.
func NewItem(global Dim, id [3]int) Item {
	return Item{id: id, global: global}
}

// ID returns the coordinate in dimension i.
func (it Item) ID(i int) int {
	return it.id[i]
}

// Range returns the global extent in dimension i.
func (it Item) Range(i int) int {
	return it.global.Size(i)
}

// Global returns the full extent the item belongs to.
func (it Item) Global() Dim {
	return it.global
}

// GroupItem is a coordinate within an explicitly partitioned launch:
// a group index, a local index inside the group, and the partition
// geometry. Used by kernels that need group-local structure, such as
// reductions that accumulate one value per group.
type GroupItem struct {
	group     [3]int
	local     [3]int
	numGroups Dim
	groupSize Dim
}

// NewGroupItem builds a group item from the partition geometry.
func NewGroupItem(numGroups, groupSize Dim, group, local [3]int) GroupItem {
	return GroupItem{group: group, local: local, numGroups: numGroups, groupSize: groupSize}
}

// GroupID returns the group index in dimension i.
func (it GroupItem) GroupID(i int) int {
	return it.group[i]
}

// LocalID returns the index within the group in dimension i.
func (it GroupItem) LocalID(i int) int {
	return it.local[i]
}

// GlobalID returns group*groupSize+local in dimension i.
func (it GroupItem) GlobalID(i int) int {
	return it.group[i]*it.groupSize.Size(i) + it.local[i]
}

// NumGroups returns the number of groups in dimension i.
func (it GroupItem) NumGroups(i int) int {
	return it.numGroups.Size(i)
}

// GroupSize returns the group extent in dimension i.
func (it GroupItem) GroupSize(i int) int {
	return it.groupSize.Size(i)
}

// DefaultGroupSize returns the starting group-size heuristic for an
// extent: 256 for 1D, 16x16 for 2D, 1x16x16 for 3D. This is a tunable
// policy; the only contract is that NumGroups(global, group) covers
// the extent with guarded overshoot.
func DefaultGroupSize(global Dim) Dim {
	switch global.Rank() {
	case 1:
		return Dim1(256)
	case 2:
		return Dim2(16, 16)
	default:
		return Dim3(1, 16, 16)
	}
}

// NumGroups returns the per-dimension ceiling division of global by
// groupSize. The resulting grid covers every coordinate of global;
// trailing items beyond the extent must be guarded by the dispatcher.
func NumGroups(global, groupSize Dim) Dim {
	g := global
	for i := 0; i < global.Rank(); i++ {
		g.sizes[i] = ceilDiv(global.sizes[i], groupSize.sizes[i])
	}
	return g
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
