package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// SpatialFeatureKey is the .npz entry holding the spatial (attention) features.
const SpatialFeatureKey = "feat"

// Features are the precomputed visual features of one image, stored as flat
// row-major buffers plus their dimensions.
type Features struct {
	// Ix is the image index the features were loaded for.
	Ix int

	Dense     []float32
	DenseDims []int

	Spatial     []float32
	SpatialDims []int
}

// NumBytes is the size of the feature buffers.
func (f *Features) NumBytes() int {
	return 4 * (len(f.Dense) + len(f.Spatial))
}

// placeholderDims is the shape substituted for spatial features when they
// are disabled.
var placeholderDims = []int{1, 1, 1}

// FeatureReader loads per-image feature files named after the image ID:
// <fcDir>/<id>.npy for dense features and <attDir>/<id>.npz for spatial ones.
// It is safe for concurrent use.
type FeatureReader struct {
	fcDir, attDir string
	useAtt        bool
	images        []ImageRecord

	// cache is nil when disabled.
	cache *lru.Cache
}

// NewFeatureReader creates a reader for the given dataset images. When useAtt
// is false only the dense file is read and the spatial features are a
// (1,1,1) zero placeholder. A positive cacheSize keeps that many decoded
// images in an LRU cache.
func NewFeatureReader(fcDir, attDir string, useAtt bool, images []ImageRecord, cacheSize int) (*FeatureReader, error) {
	r := &FeatureReader{
		fcDir:  fcDir,
		attDir: attDir,
		useAtt: useAtt,
		images: images,
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create feature cache of size %d", cacheSize)
		}
		r.cache = cache
	}
	return r, nil
}

// Load reads the features of image ix. Missing or corrupt files are returned
// as errors; nothing is retried. The returned Features must not be modified,
// since they may be shared through the cache.
func (r *FeatureReader) Load(ix int) (*Features, error) {
	if ix < 0 || ix >= len(r.images) {
		return nil, errors.Errorf("image index %d out of range [0, %d)", ix, len(r.images))
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(ix); ok {
			return v.(*Features), nil
		}
	}

	id := r.images[ix].ID
	f := &Features{Ix: ix}
	var err error
	f.Dense, f.DenseDims, err = readNpy(featurePath(r.fcDir, id, ".npy"))
	if err != nil {
		return nil, errors.WithMessagef(err, "dense features of image %d (id %s)", ix, id)
	}
	if r.useAtt {
		f.Spatial, f.SpatialDims, err = readNpzEntry(featurePath(r.attDir, id, ".npz"), SpatialFeatureKey)
		if err != nil {
			return nil, errors.WithMessagef(err, "spatial features of image %d (id %s)", ix, id)
		}
	} else {
		f.Spatial = make([]float32, 1)
		f.SpatialDims = placeholderDims
	}

	if r.cache != nil {
		r.cache.Add(ix, f)
	}
	return f, nil
}

func readNpy(path string) ([]float32, []int, error) {
	t, err := numpy.FromNpyFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer finalize(t)
	return floatContents(t, path)
}

func readNpzEntry(path, key string) ([]float32, []int, error) {
	arrays, err := numpy.FromNpzFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		for _, t := range arrays {
			finalize(t)
		}
	}()
	t, found := arrays[key]
	if !found {
		return nil, nil, errors.Errorf("%q has no %q entry", path, key)
	}
	return floatContents(t, path)
}

func floatContents(t *tensors.Tensor, path string) ([]float32, []int, error) {
	data, err := tensorFloat32(t)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reading %q", path)
	}
	dims := append([]int(nil), t.Shape().Dimensions...)
	return data, dims, nil
}
