package multimap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIsSetLike(t *testing.T) {
	m := New[string, int]()

	assert.True(t, m.Add("a", 1))
	assert.True(t, m.Add("a", 2))
	assert.False(t, m.Add("a", 1), "duplicate add must report no change")
	assert.True(t, m.Add("b", 1))

	assert.Equal(t, 2, m.Count("a"))
	assert.Equal(t, 3, m.Len())
	assert.True(t, m.Has("a", 2))
	assert.False(t, m.Has("b", 2))
	assert.False(t, m.Has("zzz", 1))
}

func TestRemoveDropsEmptyKeys(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1)
	m.Add("a", 2)

	assert.False(t, m.Remove("a", 3))
	assert.False(t, m.Remove("nope", 1))
	assert.True(t, m.Remove("a", 1))
	assert.True(t, m.HasKey("a"))
	assert.True(t, m.Remove("a", 2))
	assert.False(t, m.HasKey("a"))
	assert.Empty(t, m.Keys())
	assert.Equal(t, 0, m.Count("a"))
}

func TestInsertionOrder(t *testing.T) {
	m := New[string, int]()
	m.Add("k2", 30)
	m.Add("k1", 10)
	m.Add("k2", 20)
	m.Add("k2", 40)
	m.Remove("k2", 20)

	assert.Equal(t, []string{"k2", "k1"}, m.Keys())
	assert.Equal(t, []int{30, 40}, m.Values("k2"))

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, Entry[string, int]{Key: "k2", Value: 30}, all[0])
	assert.Equal(t, Entry[string, int]{Key: "k2", Value: 40}, all[1])
	assert.Equal(t, Entry[string, int]{Key: "k1", Value: 10}, all[2])
}

func TestValuesIsASnapshot(t *testing.T) {
	m := New[string, int]()
	m.Add("a", 1)
	m.Add("a", 2)

	vals := m.Values("a")
	for _, v := range vals {
		m.Remove("a", v)
	}
	assert.Equal(t, []int{1, 2}, vals)
	assert.Nil(t, m.Values("a"))
}

func TestRemoveKeyAndClear(t *testing.T) {
	m := New[int, string]()
	m.Add(1, "x")
	m.Add(2, "y")

	assert.True(t, m.RemoveKey(1))
	assert.False(t, m.RemoveKey(1))
	assert.Equal(t, []int{2}, m.Keys())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.All())
	assert.True(t, m.Add(2, "y"))
}
