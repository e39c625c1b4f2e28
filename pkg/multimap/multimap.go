// Package multimap provides a key to set-of-values map that remembers the
// order in which values were added under each key.
package multimap

// MultiMap maps each key to a set of distinct values. Within a key, values
// iterate in insertion order. A key with no values is not present.
//
// A MultiMap is not safe for concurrent use; callers provide their own
// locking.
type MultiMap[K comparable, V comparable] struct {
	data map[K]*valueSet[V]
	// keys preserves key insertion order for All and Keys
	keys []K
}

type valueSet[V comparable] struct {
	index map[V]struct{}
	items []V
}

// New creates an empty MultiMap
func New[K comparable, V comparable]() *MultiMap[K, V] {
	return &MultiMap[K, V]{
		data: make(map[K]*valueSet[V]),
	}
}

// Add inserts value under key. It returns false if the value was
// already present under that key.
func (m *MultiMap[K, V]) Add(key K, value V) bool {
	set, ok := m.data[key]
	if !ok {
		set = &valueSet[V]{index: make(map[V]struct{})}
		m.data[key] = set
		m.keys = append(m.keys, key)
	} else if _, dup := set.index[value]; dup {
		return false
	}
	set.index[value] = struct{}{}
	set.items = append(set.items, value)
	return true
}

// Remove deletes value from under key, dropping the key when its set
// becomes empty. It returns true if something was removed.
func (m *MultiMap[K, V]) Remove(key K, value V) bool {
	set, ok := m.data[key]
	if !ok {
		return false
	}
	if _, present := set.index[value]; !present {
		return false
	}
	delete(set.index, value)
	for i, v := range set.items {
		if v == value {
			set.items = append(set.items[:i], set.items[i+1:]...)
			break
		}
	}
	if len(set.items) == 0 {
		m.RemoveKey(key)
	}
	return true
}

// RemoveKey deletes key and every value under it. It returns true if the
// key was present.
func (m *MultiMap[K, V]) RemoveKey(key K) bool {
	if _, ok := m.data[key]; !ok {
		return false
	}
	delete(m.data, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether value is present under key
func (m *MultiMap[K, V]) Has(key K, value V) bool {
	set, ok := m.data[key]
	if !ok {
		return false
	}
	_, present := set.index[value]
	return present
}

// HasKey reports whether key has at least one value
func (m *MultiMap[K, V]) HasKey(key K) bool {
	_, ok := m.data[key]
	return ok
}

// Count returns the number of values under key
func (m *MultiMap[K, V]) Count(key K) int {
	set, ok := m.data[key]
	if !ok {
		return 0
	}
	return len(set.items)
}

// Len returns the total number of (key, value) pairs
func (m *MultiMap[K, V]) Len() int {
	n := 0
	for _, set := range m.data {
		n += len(set.items)
	}
	return n
}

// Values returns a copy of the values under key, in insertion order.
// The copy may be retained and iterated while the map is modified.
func (m *MultiMap[K, V]) Values(key K) []V {
	set, ok := m.data[key]
	if !ok {
		return nil
	}
	out := make([]V, len(set.items))
	copy(out, set.items)
	return out
}

// Keys returns a copy of the present keys in insertion order
func (m *MultiMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Entry is a single (key, value) pair produced by All
type Entry[K comparable, V comparable] struct {
	Key   K
	Value V
}

// All returns a snapshot of every (key, value) pair, keys in insertion
// order and values in insertion order within a key.
func (m *MultiMap[K, V]) All() []Entry[K, V] {
	out := make([]Entry[K, V], 0, m.Len())
	for _, k := range m.keys {
		for _, v := range m.data[k].items {
			out = append(out, Entry[K, V]{Key: k, Value: v})
		}
	}
	return out
}

// Clear removes everything
func (m *MultiMap[K, V]) Clear() {
	m.data = make(map[K]*valueSet[V])
	m.keys = nil
}
