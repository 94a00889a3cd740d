package markup

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/zwegner/waliki/internal/apperr"
)

// Meta is an ordered mapping from metadata key to one or more string values.
// Insertion order is preserved for iteration; serialization uses sorted keys.
type Meta struct {
	m *orderedmap.OrderedMap[string, []string]
}

// NewMeta returns an empty metadata map.
func NewMeta() *Meta {
	return &Meta{m: orderedmap.New[string, []string]()}
}

// Len returns the number of distinct keys.
func (m *Meta) Len() int {
	return m.m.Len()
}

// Has reports whether key is present.
func (m *Meta) Has(key string) bool {
	_, ok := m.m.Get(key)
	return ok
}

// Set replaces the values stored under key.
func (m *Meta) Set(key string, values ...string) {
	m.m.Set(key, values)
}

// Add appends value to the values stored under key, creating it if absent.
func (m *Meta) Add(key, value string) {
	if existing, ok := m.m.Get(key); ok {
		m.m.Set(key, append(existing, value))
		return
	}
	m.m.Set(key, []string{value})
}

// Delete removes key. It is a no-op when key is absent.
func (m *Meta) Delete(key string) {
	m.m.Delete(key)
}

// Values returns every value stored under key.
// Returns apperr.ErrMissingMeta when key is absent.
func (m *Meta) Values(key string) ([]string, error) {
	values, ok := m.m.Get(key)
	if !ok {
		return nil, fmt.Errorf("markup: key %q: %w", key, apperr.ErrMissingMeta)
	}
	return values, nil
}

// Scalar returns the value stored under key when it holds exactly one value,
// and the first value otherwise. Returns apperr.ErrMissingMeta when key is
// absent or empty.
func (m *Meta) Scalar(key string) (string, error) {
	values, err := m.Values(key)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("markup: key %q has no values: %w", key, apperr.ErrMissingMeta)
	}
	return values[0], nil
}

// Keys returns the keys in insertion order.
func (m *Meta) Keys() []string {
	out := make([]string, 0, m.m.Len())
	for pair := m.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// SortedKeys returns the keys in lexicographic order, the order used when
// serializing a page header.
func (m *Meta) SortedKeys() []string {
	out := m.Keys()
	sort.Strings(out)
	return out
}
