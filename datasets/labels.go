package datasets

import (
	"path/filepath"
	"strings"

	"github.com/Noofbiz/captionLoader/datasets/hdf5"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Keys of the label store arrays, both as .npz entries and as HDF5 datasets.
const (
	LabelsKey       = "labels"
	LabelStartIxKey = "label_start_ix"
	LabelEndIxKey   = "label_end_ix"
)

// ErrNoCaptions is returned for an image whose caption range is empty. A
// well-formed dataset never has one, so callers should treat it as fatal.
var ErrNoCaptions = errors.New("image has no captions")

// LabelStore holds the caption token matrix and the per-image row pointers.
// It is immutable after creation and safe for concurrent reads.
type LabelStore struct {
	labels    []int32 // [numRows, seqLength], row-major
	numRows   int
	seqLength int

	// 1-based, inclusive.
	startIx, endIx []int
}

// NewLabelStore builds a LabelStore from a flat row-major token matrix with
// seqLength columns and the 1-based inclusive label_start_ix/label_end_ix
// pointers.
func NewLabelStore(labels []int32, seqLength int, startIx, endIx []int) (*LabelStore, error) {
	if seqLength <= 0 {
		return nil, errors.Errorf("sequence length must be positive, got %d", seqLength)
	}
	if len(labels)%seqLength != 0 {
		return nil, errors.Errorf("labels length %d is not a multiple of sequence length %d", len(labels), seqLength)
	}
	if len(startIx) != len(endIx) {
		return nil, errors.Errorf("%s has %d entries but %s has %d",
			LabelStartIxKey, len(startIx), LabelEndIxKey, len(endIx))
	}
	return &LabelStore{
		labels:    labels,
		numRows:   len(labels) / seqLength,
		seqLength: seqLength,
		startIx:   startIx,
		endIx:     endIx,
	}, nil
}

// OpenLabelStore loads a label store from path. Files ending in .npz are read
// with numpy; .h5 and .hdf5 files are read through h5dump.
func OpenLabelStore(path string) (*LabelStore, error) {
	klog.Infof("loading label store %s", path)
	var (
		s   *LabelStore
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".npz":
		s, err = openNpzLabels(path)
	case ".h5", ".hdf5":
		s, err = openH5Labels(path)
	default:
		return nil, errors.Errorf("unsupported label store extension %q for %q", ext, path)
	}
	if err != nil {
		return nil, err
	}
	klog.Infof("max sequence length in data is %d, %d caption rows, %d images",
		s.seqLength, s.numRows, s.NumImages())
	return s, nil
}

func openNpzLabels(path string) (*LabelStore, error) {
	arrays, err := numpy.FromNpzFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "label store %q", path)
	}
	defer func() {
		for _, t := range arrays {
			finalize(t)
		}
	}()

	get := func(key string) (*tensors.Tensor, error) {
		t, found := arrays[key]
		if !found {
			return nil, errors.Errorf("label store %q has no %q array", path, key)
		}
		return t, nil
	}
	labelsT, err := get(LabelsKey)
	if err != nil {
		return nil, err
	}
	if labelsT.Rank() != 2 {
		return nil, errors.Errorf("label store %q: %s must have rank 2, got shape %s", path, LabelsKey, labelsT.Shape())
	}
	labels, err := tensorInts(labelsT)
	if err != nil {
		return nil, errors.WithMessagef(err, "label store %q: %s", path, LabelsKey)
	}
	seqLength := labelsT.Shape().Dimensions[1]

	pointers := make([][]int, 2)
	for i, key := range []string{LabelStartIxKey, LabelEndIxKey} {
		t, err := get(key)
		if err != nil {
			return nil, err
		}
		if pointers[i], err = tensorInts(t); err != nil {
			return nil, errors.WithMessagef(err, "label store %q: %s", path, key)
		}
	}
	return NewLabelStore(toInt32(labels), seqLength, pointers[0], pointers[1])
}

func openH5Labels(path string) (*LabelStore, error) {
	contents, err := hdf5.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return h5LabelStore(path, contents, (*hdf5.Dataset).Ints)
}

// h5LabelStore builds a LabelStore from the parsed contents of an HDF5 file,
// reading each dataset's values with ints.
func h5LabelStore(path string, contents hdf5.Contents, ints func(*hdf5.Dataset) ([]int, error)) (*LabelStore, error) {
	load := func(key string) (*hdf5.Dataset, []int, error) {
		ds, found := contents["/"+key]
		if !found {
			return nil, nil, errors.Errorf("label store %q has no %q dataset", path, key)
		}
		values, err := ints(ds)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "label store %q: %s", path, key)
		}
		if len(values) != ds.Size() {
			return nil, nil, errors.Errorf("label store %q: %s has %d values, header says %v",
				path, key, len(values), ds.Dims)
		}
		return ds, values, nil
	}
	labelsDS, labels, err := load(LabelsKey)
	if err != nil {
		return nil, err
	}
	if len(labelsDS.Dims) != 2 {
		return nil, errors.Errorf("label store %q: %s must have rank 2, got dims %v", path, LabelsKey, labelsDS.Dims)
	}
	_, startIx, err := load(LabelStartIxKey)
	if err != nil {
		return nil, err
	}
	_, endIx, err := load(LabelEndIxKey)
	if err != nil {
		return nil, err
	}
	return NewLabelStore(toInt32(labels), labelsDS.Dims[1], startIx, endIx)
}

func toInt32(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

// NumImages is the number of images with caption pointers.
func (s *LabelStore) NumImages() int { return len(s.startIx) }

// NumRows is the number of caption rows.
func (s *LabelStore) NumRows() int { return s.numRows }

// SeqLength is the maximum caption length, the width of every row.
func (s *LabelStore) SeqLength() int { return s.seqLength }

// Range returns the 0-based inclusive caption row range [start, end] of image
// ix. It returns ErrNoCaptions if the range is empty.
func (s *LabelStore) Range(ix int) (start, end int, err error) {
	if ix < 0 || ix >= len(s.startIx) {
		return 0, 0, errors.Errorf("image index %d out of range [0, %d)", ix, len(s.startIx))
	}
	start, end = s.startIx[ix]-1, s.endIx[ix]-1
	if end-start+1 <= 0 {
		return 0, 0, errors.Wrapf(ErrNoCaptions, "image %d (label_start_ix=%d, label_end_ix=%d)",
			ix, s.startIx[ix], s.endIx[ix])
	}
	if start < 0 || end >= s.numRows {
		return 0, 0, errors.Errorf("image %d caption rows [%d, %d] outside [0, %d)", ix, start, end, s.numRows)
	}
	return start, end, nil
}

// Row returns caption row r. The returned slice shares the store's memory
// and must not be modified.
func (s *LabelStore) Row(r int) []int32 {
	return s.labels[r*s.seqLength : (r+1)*s.seqLength : (r+1)*s.seqLength]
}

// Rows returns copies of the caption rows [start, end] (inclusive).
func (s *LabelStore) Rows(start, end int) [][]int32 {
	rows := make([][]int32, 0, end-start+1)
	for r := start; r <= end; r++ {
		row := make([]int32, s.seqLength)
		copy(row, s.Row(r))
		rows = append(rows, row)
	}
	return rows
}
