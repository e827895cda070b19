package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 2}), "mismatched dimensions")
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}), "zero vector")
}

func TestArgsPlaceholders(t *testing.T) {
	a := &args{}
	assert.Equal(t, "$1", a.add("x"))
	assert.Equal(t, "$2, $3", a.list([]string{"y", "z"}))
	assert.Len(t, a.values, 3)
}
