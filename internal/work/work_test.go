package work

import "testing"

func TestDimNumItems(t *testing.T) {
	tests := []struct {
		dim  Dim
		want int
	}{
		{Dim1(7), 7},
		{Dim2(3, 5), 15},
		{Dim3(2, 4, 8), 64},
		{Dim1(1), 1},
	}
	for _, tt := range tests {
		if got := tt.dim.NumItems(); got != tt.want {
			t.Errorf("%v.NumItems() = %d, want %d", tt.dim, got, tt.want)
		}
	}
}

func TestDimValidate(t *testing.T) {
	if err := Dim2(4, 4).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := Dim2(4, 0).Validate(); err == nil {
		t.Error("Validate() should fail for zero extent")
	}
	if err := Dim3(-1, 2, 2).Validate(); err == nil {
		t.Error("Validate() should fail for negative extent")
	}
}

func TestDimContains(t *testing.T) {
	d := Dim2(3, 5)
	if !d.Contains([3]int{2, 4, 0}) {
		t.Error("Contains should accept in-range coordinate")
	}
	if d.Contains([3]int{3, 0, 0}) {
		t.Error("Contains should reject coordinate == extent")
	}
	if d.Contains([3]int{0, 5, 0}) {
		t.Error("Contains should reject out-of-range inner coordinate")
	}
}

// The grid produced by NumGroups must cover the extent with no gaps:
// ceil-div guarantees numGroups*groupSize >= extent in every dimension.
func TestNumGroupsCoversExtent(t *testing.T) {
	extents := []Dim{Dim1(1), Dim1(255), Dim1(256), Dim1(257), Dim2(17, 31), Dim3(3, 33, 65)}
	for _, global := range extents {
		group := DefaultGroupSize(global)
		grid := NumGroups(global, group)
		for i := 0; i < global.Rank(); i++ {
			covered := grid.Size(i) * group.Size(i)
			if covered < global.Size(i) {
				t.Errorf("extent %v dim %d: grid covers %d < %d", global, i, covered, global.Size(i))
			}
			if (grid.Size(i)-1)*group.Size(i) >= global.Size(i) {
				t.Errorf("extent %v dim %d: grid over-provisions a full group", global, i)
			}
		}
	}
}

func TestGroupItemGlobalID(t *testing.T) {
	it := NewGroupItem(Dim2(4, 4), Dim2(16, 16), [3]int{1, 2, 0}, [3]int{3, 5, 0})
	if got := it.GlobalID(0); got != 19 {
		t.Errorf("GlobalID(0) = %d, want 19", got)
	}
	if got := it.GlobalID(1); got != 37 {
		t.Errorf("GlobalID(1) = %d, want 37", got)
	}
	if it.NumGroups(0) != 4 || it.GroupSize(1) != 16 {
		t.Error("group geometry accessors mismatch")
	}
}
