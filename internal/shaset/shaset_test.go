package shaset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertDeduplicates(t *testing.T) {
	s := New()
	assert.True(t, s.Insert([32]byte{1}))
	assert.False(t, s.Insert([32]byte{1}))
	assert.Equal(t, 1, s.Len())
}

func TestBatchesRespectSize(t *testing.T) {
	s := New()
	for i := byte(0); i < 10; i++ {
		s.Insert([32]byte{i})
	}
	batches := s.Batches(3)
	assert.Len(t, batches, 4)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[3], 1)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 10, total)
}

func TestOrderedIsSorted(t *testing.T) {
	s := New()
	s.Insert([32]byte{3})
	s.Insert([32]byte{1})
	s.Insert([32]byte{2})
	ordered := s.Ordered()
	assert.Equal(t, [32]byte{1}, ordered[0])
	assert.Equal(t, [32]byte{2}, ordered[1])
	assert.Equal(t, [32]byte{3}, ordered[2])
}
