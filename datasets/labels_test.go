package datasets

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Noofbiz/captionLoader/datasets/hdf5"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeImageLabels has captions counts 1, 3 and 2 over 6 rows of length 4.
func threeImageLabels() ([]int32, []int, []int) {
	labels := []int32{
		1, 2, 0, 0,
		3, 4, 5, 0,
		6, 0, 0, 0,
		7, 8, 9, 10,
		11, 12, 0, 0,
		13, 0, 0, 0,
	}
	return labels, []int{1, 2, 5}, []int{1, 4, 6}
}

func TestOpenLabelStore_Npz(t *testing.T) {
	tmp := t.TempDir()
	labels, start, end := threeImageLabels()
	path := filepath.Join(tmp, "labels.npz")
	writeNpz(t, path, map[string]*tensors.Tensor{
		LabelsKey:       tensors.FromFlatDataAndDimensions(labels, 6, 4),
		LabelStartIxKey: tensors.FromFlatDataAndDimensions([]int64{int64(start[0]), int64(start[1]), int64(start[2])}, 3),
		LabelEndIxKey:   tensors.FromFlatDataAndDimensions([]int64{int64(end[0]), int64(end[1]), int64(end[2])}, 3),
	})

	s, err := OpenLabelStore(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.NumImages())
	assert.Equal(t, 6, s.NumRows())
	assert.Equal(t, 4, s.SeqLength())

	start0, end0, err := s.Range(1)
	require.NoError(t, err)
	assert.Equal(t, 1, start0)
	assert.Equal(t, 3, end0)
	assert.Equal(t, []int32{7, 8, 9, 10}, s.Row(3))

	rows := s.Rows(start0, end0)
	require.Len(t, rows, 3)
	assert.Equal(t, []int32{3, 4, 5, 0}, rows[0])
	rows[0][0] = 99
	assert.Equal(t, int32(3), s.Row(1)[0], "Rows must return copies")
}

func TestOpenLabelStore_Errors(t *testing.T) {
	tmp := t.TempDir()
	_, err := OpenLabelStore(filepath.Join(tmp, "labels.csv"))
	require.Error(t, err)

	missing := filepath.Join(tmp, "missing.npz")
	labels, _, _ := threeImageLabels()
	writeNpz(t, missing, map[string]*tensors.Tensor{
		LabelsKey: tensors.FromFlatDataAndDimensions(labels, 6, 4),
	})
	_, err = OpenLabelStore(missing)
	require.Error(t, err)

	floats := filepath.Join(tmp, "floats.npz")
	writeNpz(t, floats, map[string]*tensors.Tensor{
		LabelsKey:       tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2),
		LabelStartIxKey: tensors.FromFlatDataAndDimensions([]int64{1}, 1),
		LabelEndIxKey:   tensors.FromFlatDataAndDimensions([]int64{1}, 1),
	})
	_, err = OpenLabelStore(floats)
	require.Error(t, err)
}

func TestLabelStore_ZeroCaptionsIsFatal(t *testing.T) {
	labels, _, _ := threeImageLabels()
	s, err := NewLabelStore(labels, 4, []int{1, 2, 5}, []int{1, 4, 4})
	require.NoError(t, err)

	_, _, err = s.Range(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCaptions))

	_, _, err = s.Range(3)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoCaptions))
}

func TestNewLabelStore_Validation(t *testing.T) {
	_, err := NewLabelStore([]int32{1, 2, 3}, 2, []int{1}, []int{1})
	require.Error(t, err)
	_, err = NewLabelStore([]int32{1, 2}, 2, []int{1}, nil)
	require.Error(t, err)
	_, err = NewLabelStore(nil, 0, nil, nil)
	require.Error(t, err)

	s, err := NewLabelStore([]int32{1, 2}, 2, []int{1}, []int{2})
	require.NoError(t, err)
	_, _, err = s.Range(0)
	require.Error(t, err, "end pointer beyond the last row")
}

// h5importDataset writes a text input and its h5import configuration for one
// integer dataset, returning the h5import arguments for it.
func h5importDataset(t *testing.T, dir, name string, values []int, dims ...int) []string {
	t.Helper()
	words := make([]string, len(values))
	for i, v := range values {
		words[i] = fmt.Sprint(v)
	}
	input := filepath.Join(dir, name+".txt")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(words, " ")+"\n"), 0o644))

	dimWords := make([]string, len(dims))
	for i, d := range dims {
		dimWords[i] = fmt.Sprint(d)
	}
	conf := filepath.Join(dir, name+".conf")
	config := fmt.Sprintf(`PATH %s
INPUT-CLASS TEXTIN
INPUT-SIZE 32
RANK %d
DIMENSION-SIZES %s
OUTPUT-CLASS IN
OUTPUT-SIZE 32
`, name, len(dims), strings.Join(dimWords, " "))
	require.NoError(t, os.WriteFile(conf, []byte(config), 0o644))
	return []string{input, "-c", conf}
}

func TestOpenLabelStore_H5(t *testing.T) {
	for _, tool := range []string{"h5dump", "h5import"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s is not installed", tool)
		}
	}
	tmp := t.TempDir()
	labels, start, end := threeImageLabels()
	path := filepath.Join(tmp, "labels.h5")

	var args []string
	args = append(args, h5importDataset(t, tmp, LabelsKey, toInts(labels), 6, 4)...)
	args = append(args, h5importDataset(t, tmp, LabelStartIxKey, start, 3)...)
	args = append(args, h5importDataset(t, tmp, LabelEndIxKey, end, 3)...)
	args = append(args, "-o", path)
	out, err := exec.Command("h5import", args...).CombinedOutput()
	require.NoError(t, err, "h5import: %s", out)

	s, err := OpenLabelStore(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.SeqLength())
	assert.Equal(t, 3, s.NumImages())
	assert.Equal(t, 6, s.NumRows())
	for ix, want := range [][2]int{{0, 0}, {1, 3}, {4, 5}} {
		start, end, err := s.Range(ix)
		require.NoError(t, err, "image %d", ix)
		assert.Equal(t, want[0], start, "image %d", ix)
		assert.Equal(t, want[1], end, "image %d", ix)
	}
	assert.Equal(t, []int32{7, 8, 9, 10}, s.Row(3))
}

func TestH5LabelStore_HeaderChecks(t *testing.T) {
	labels, start, end := threeImageLabels()
	values := map[string][]int{
		"/" + LabelsKey:       toInts(labels),
		"/" + LabelStartIxKey: start,
		"/" + LabelEndIxKey:   end,
	}
	ints := func(ds *hdf5.Dataset) ([]int, error) { return values[ds.GroupPath], nil }
	contents := func(labelDims ...int) hdf5.Contents {
		return hdf5.Contents{
			"/" + LabelsKey:       {GroupPath: "/" + LabelsKey, Dims: labelDims},
			"/" + LabelStartIxKey: {GroupPath: "/" + LabelStartIxKey, Dims: []int{3}},
			"/" + LabelEndIxKey:   {GroupPath: "/" + LabelEndIxKey, Dims: []int{3}},
		}
	}

	s, err := h5LabelStore("labels.h5", contents(6, 4), ints)
	require.NoError(t, err)
	assert.Equal(t, 4, s.SeqLength())
	assert.Equal(t, 3, s.NumImages())

	_, err = h5LabelStore("labels.h5", contents(6, 5), ints)
	require.Error(t, err, "header size disagrees with the values read")
	assert.Contains(t, err.Error(), "header says")

	_, err = h5LabelStore("labels.h5", contents(24), ints)
	require.Error(t, err, "labels must have rank 2")

	missing := contents(6, 4)
	delete(missing, "/"+LabelEndIxKey)
	_, err = h5LabelStore("labels.h5", missing, ints)
	require.Error(t, err)
}
