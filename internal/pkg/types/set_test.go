package types

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSet(t *testing.T) {
	t.Run("empty set", func(t *testing.T) {
		assert.Empty(t, NewSet[int]())
	})

	t.Run("duplicate elements collapse", func(t *testing.T) {
		set := NewSet(1, 2, 2, 3, 3, 3)
		assert.Len(t, set, 3)
	})
}

func TestSet_AddDeleteHas(t *testing.T) {
	set := NewSet[string]()
	set.Add("1000", "2000")
	assert.True(t, set.Has("1000"))

	set.Delete("1000", "3000")
	assert.False(t, set.Has("1000"))
	assert.True(t, set.Has("2000"))
}

func TestSet_Difference(t *testing.T) {
	t.Run("elements only in the receiver", func(t *testing.T) {
		current := NewSet("1000", "2000", "3000")
		next := NewSet("2000", "4000")

		assert.Equal(t, NewSet("1000", "3000"), current.Difference(next))
		assert.Equal(t, NewSet("4000"), next.Difference(current))
	})

	t.Run("identical sets have no difference", func(t *testing.T) {
		assert.Empty(t, NewSet(1, 2).Difference(NewSet(1, 2)))
	})
}

func TestSet_ToSlice(t *testing.T) {
	got := NewSet(3, 1, 2).ToSlice()
	slices.Sort(got)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSorted(t *testing.T) {
	assert.Equal(t, []string{"0", "1000", "2000"}, Sorted(NewSet("2000", "0", "1000")))
}

func TestDistinct(t *testing.T) {
	t.Run("keeps first occurrence order", func(t *testing.T) {
		assert.Equal(t, []string{"b", "a", "c"}, Distinct([]string{"b", "a", "b", "c", "a"}))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Distinct[int](nil))
	})
}
