package datasets

import (
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func toInts[T integer](values []T) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

// tensorInts copies the contents of an integer tensor into a []int.
func tensorInts(t *tensors.Tensor) ([]int, error) {
	var out []int
	var err error
	t.ConstFlatData(func(flat any) {
		switch v := flat.(type) {
		case []int8:
			out = toInts(v)
		case []int16:
			out = toInts(v)
		case []int32:
			out = toInts(v)
		case []int64:
			out = toInts(v)
		case []uint8:
			out = toInts(v)
		case []uint16:
			out = toInts(v)
		case []uint32:
			out = toInts(v)
		case []uint64:
			out = toInts(v)
		default:
			err = errors.Errorf("expected an integer tensor, got dtype %s", t.DType())
		}
	})
	return out, err
}

// tensorFloat32 copies the contents of a float tensor into a []float32.
func tensorFloat32(t *tensors.Tensor) ([]float32, error) {
	var out []float32
	var err error
	t.ConstFlatData(func(flat any) {
		switch v := flat.(type) {
		case []float32:
			out = make([]float32, len(v))
			copy(out, v)
		case []float64:
			out = make([]float32, len(v))
			for i, f := range v {
				out[i] = float32(f)
			}
		default:
			err = errors.Errorf("expected a float tensor, got dtype %s", t.DType())
		}
	})
	return out, err
}

// finalize frees a tensor once its contents have been copied out.
func finalize(t *tensors.Tensor) {
	t.FinalizeAll()
}

// featurePath builds <dir>/<id><ext>.
func featurePath(dir string, id ImageID, ext string) string {
	return filepath.Join(dir, string(id)+ext)
}
