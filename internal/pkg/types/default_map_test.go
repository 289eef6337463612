package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMap(t *testing.T) {
	t.Run("get creates missing values", func(t *testing.T) {
		dm := NewDefaultMap[string](func() Set[int] { return NewSet[int]() })

		dm.Get("a").Add(1)
		dm.Get("a").Add(2)

		assert.Equal(t, NewSet(1, 2), dm.Get("a"))
		assert.Equal(t, 1, dm.Len())
	})

	t.Run("lookup does not create values", func(t *testing.T) {
		dm := NewDefaultMap[string](func() int { return 7 })

		_, ok := dm.Lookup("missing")
		assert.False(t, ok)
		assert.Zero(t, dm.Len())

		dm.Set("present", 3)
		v, ok := dm.Lookup("present")
		assert.True(t, ok)
		assert.Equal(t, 3, v)
	})

	t.Run("delete removes keys", func(t *testing.T) {
		dm := NewDefaultMap[string](func() int { return 0 })
		dm.Set("a", 1)
		dm.Set("b", 2)

		dm.Delete("a")
		dm.Delete("unknown")

		assert.Equal(t, map[string]int{"b": 2}, dm.ToMap())
	})
}
