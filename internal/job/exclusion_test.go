package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusionSetAddAndContains(t *testing.T) {
	e := NewExclusionSet()
	assert.False(t, e.Contains(7, 2))

	e.Add(7, 2)
	assert.True(t, e.Contains(7, 2))
	assert.False(t, e.Contains(7, 3))
	assert.False(t, e.Contains(9, 2))
}

func TestExclusionSetPurge(t *testing.T) {
	e := NewExclusionSet()
	e.Add(7, 2)
	e.Add(7, 3)

	e.Purge(7)
	assert.False(t, e.Contains(7, 2))
	assert.Empty(t, e.Indices(7))
}

func TestExclusionSetIndices(t *testing.T) {
	e := NewExclusionSet()
	e.Add(1, 2)
	e.Add(1, 4)

	idx := e.Indices(1)
	assert.ElementsMatch(t, []int{2, 4}, idx)
}
