package datasets

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
)

// writeNpy writes a float32 array with the given dimensions to path.
func writeNpy(t *testing.T, path string, data []float32, dims ...int) {
	t.Helper()
	if err := numpy.ToNpyFile(tensors.FromFlatDataAndDimensions(data, dims...), path); err != nil {
		t.Fatalf("failed to write npy %s: %v", path, err)
	}
}

// writeNpz writes the given arrays to an .npz archive at path.
func writeNpz(t *testing.T, path string, arrays map[string]*tensors.Tensor) {
	t.Helper()
	if err := numpy.ToNpzFile(arrays, path); err != nil {
		t.Fatalf("failed to write npz %s: %v", path, err)
	}
}
