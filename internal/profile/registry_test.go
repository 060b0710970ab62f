package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupExact(t *testing.T) {
	r := NewRegistry("default")
	r.Replace(map[string]*Record{
		"hd":      {Name: "hd"},
		"default": {Name: "default"},
	})

	rec, ok := r.Lookup("hd")
	require.True(t, ok)
	assert.Equal(t, "hd", rec.Name)
}

func TestRegistryLookupFallsBackToDefault(t *testing.T) {
	r := NewRegistry("default")
	r.Replace(map[string]*Record{
		"default": {Name: "default"},
		"mobile":  {Name: "mobile"},
	})

	rec, ok := r.Lookup("nonexistent")
	require.True(t, ok)
	assert.Equal(t, "default", rec.Name)
}

func TestRegistryLookupFallsBackToFirstWhenNoDefault(t *testing.T) {
	r := NewRegistry("missing-default")
	r.Replace(map[string]*Record{
		"only": {Name: "only"},
	})

	rec, ok := r.Lookup("nonexistent")
	require.True(t, ok)
	assert.Equal(t, "only", rec.Name)
}

func TestRegistryLookupEmptyFails(t *testing.T) {
	r := NewRegistry("default")
	_, ok := r.Lookup("anything")
	assert.False(t, ok)
}

func TestRegistryReplaceIsAtomic(t *testing.T) {
	r := NewRegistry("default")
	r.Replace(map[string]*Record{"a": {Name: "a"}})
	assert.Equal(t, 1, r.Len())

	r.Replace(map[string]*Record{"b": {Name: "b"}, "c": {Name: "c"}})
	assert.Equal(t, 2, r.Len())
	assert.NotContains(t, r.Names(), "a")
}
