package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureReader_DenseAndSpatial(t *testing.T) {
	tmp := t.TempDir()
	fcDir := filepath.Join(tmp, "fc")
	attDir := filepath.Join(tmp, "att")
	require.NoError(t, os.MkdirAll(fcDir, 0o755))
	require.NoError(t, os.MkdirAll(attDir, 0o755))

	images := []ImageRecord{{ID: "42"}, {ID: "7"}}
	writeNpy(t, filepath.Join(fcDir, "42.npy"), []float32{1, 2, 3, 4}, 4)
	writeNpy(t, filepath.Join(fcDir, "7.npy"), []float32{5, 6, 7, 8}, 4)
	writeNpz(t, filepath.Join(attDir, "7.npz"), map[string]*tensors.Tensor{
		SpatialFeatureKey: tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2),
	})

	r, err := NewFeatureReader(fcDir, attDir, true, images, 0)
	require.NoError(t, err)

	f, err := r.Load(1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Ix)
	assert.Equal(t, []float32{5, 6, 7, 8}, f.Dense)
	assert.Equal(t, []int{4}, f.DenseDims)
	assert.Equal(t, []int{2, 2, 2}, f.SpatialDims)
	assert.Len(t, f.Spatial, 8)
	assert.Equal(t, 4*12, f.NumBytes())

	// Image 42 has no spatial file.
	_, err = r.Load(0)
	require.Error(t, err)
	_, err = r.Load(2)
	require.Error(t, err)
}

func TestFeatureReader_Placeholder(t *testing.T) {
	tmp := t.TempDir()
	images := []ImageRecord{{ID: "1"}}
	writeNpy(t, filepath.Join(tmp, "1.npy"), []float32{9, 9}, 2)

	r, err := NewFeatureReader(tmp, filepath.Join(tmp, "nowhere"), false, images, 0)
	require.NoError(t, err)
	f, err := r.Load(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, f.SpatialDims)
	assert.Equal(t, []float32{0}, f.Spatial)
}

func TestFeatureReader_MissingAndCorruptFiles(t *testing.T) {
	tmp := t.TempDir()
	images := []ImageRecord{{ID: "1"}, {ID: "2"}}
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "2.npy"), []byte("not numpy"), 0o644))

	r, err := NewFeatureReader(tmp, tmp, false, images, 0)
	require.NoError(t, err)
	_, err = r.Load(0)
	require.Error(t, err)
	_, err = r.Load(1)
	require.Error(t, err)
}

func TestFeatureReader_Cache(t *testing.T) {
	tmp := t.TempDir()
	images := []ImageRecord{{ID: "1"}}
	path := filepath.Join(tmp, "1.npy")
	writeNpy(t, path, []float32{1}, 1)

	r, err := NewFeatureReader(tmp, tmp, false, images, 4)
	require.NoError(t, err)
	first, err := r.Load(0)
	require.NoError(t, err)

	// Served from the cache even after the file is gone.
	require.NoError(t, os.Remove(path))
	second, err := r.Load(0)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
