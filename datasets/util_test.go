package datasets

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorInts(t *testing.T) {
	for _, tensor := range []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]int32{3, -1, 7}, 3),
		tensors.FromFlatDataAndDimensions([]int64{3, -1, 7}, 3),
		tensors.FromFlatDataAndDimensions([]int8{3, -1, 7}, 3),
	} {
		got, err := tensorInts(tensor)
		require.NoError(t, err, "dtype %s", tensor.DType())
		assert.Equal(t, []int{3, -1, 7}, got, "dtype %s", tensor.DType())
		finalize(tensor)
	}

	floats := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)
	defer finalize(floats)
	_, err := tensorInts(floats)
	require.Error(t, err)
}

func TestTensorFloat32(t *testing.T) {
	f64 := tensors.FromFlatDataAndDimensions([]float64{0.5, 1.5, 2.5, 3.5}, 2, 2)
	defer finalize(f64)
	got, err := tensorFloat32(f64)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.5, 2.5, 3.5}, got)

	f32 := tensors.FromFlatDataAndDimensions([]float32{4, 5}, 2)
	got, err = tensorFloat32(f32)
	require.NoError(t, err)
	finalize(f32)
	assert.Equal(t, []float32{4, 5}, got, "contents are copied out before the tensor is freed")

	ints := tensors.FromFlatDataAndDimensions([]int32{1}, 1)
	defer finalize(ints)
	_, err = tensorFloat32(ints)
	require.Error(t, err)
}
