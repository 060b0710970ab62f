package chanid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticResolverCaseInsensitive(t *testing.T) {
	r := NewStaticResolver(map[string]string{"BBC1": "21"})

	code, ok := r.Resolve("bbc1")
	assert.True(t, ok)
	assert.Equal(t, "21", code)
}

func TestStaticResolverUnknown(t *testing.T) {
	r := NewStaticResolver(map[string]string{"BBC1": "21"})

	_, ok := r.Resolve("ITV")
	assert.False(t, ok)
}

func TestStaticResolverAdd(t *testing.T) {
	r := NewStaticResolver(nil)
	r.Add("ITV", "30")

	code, ok := r.Resolve("itv")
	assert.True(t, ok)
	assert.Equal(t, "30", code)
	assert.Equal(t, 1, r.Len())
}
