package loader

import (
	"slices"

	"github.com/Noofbiz/captionLoader/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageInfo identifies the image behind one batch slot.
type ImageInfo struct {
	Ix       int
	ID       datasets.ImageID
	FilePath string
}

// Bounds reports where a batch was taken from in its split.
type Bounds struct {
	// ItPosNow is the split cursor before the batch was assembled.
	ItPosNow int

	// ItMax is the number of images in the split.
	ItMax int

	// Wrapped is set if any image of the batch completed a pass.
	Wrapped bool
}

// Batch is one mini-batch of batchSize images with seqPerImg captions each.
// Feature and label buffers are flat and row-major, with one row per caption.
type Batch struct {
	FC      []float32
	FCDims  []int
	Att     []float32
	AttDims []int

	// Labels has Rows rows of Width = SeqLength+2 tokens. Column 0 and the
	// last column are left zero for the start and end markers.
	Labels []int32

	// Masks marks, per row, the tokens plus the two markers with 1.
	Masks []float32

	Rows, Width int

	// Gts holds, per image, all of its raw caption rows.
	Gts [][][]int32

	Infos  []ImageInfo
	Bounds Bounds
}

// Label returns caption row r of the label matrix.
func (b *Batch) Label(r int) []int32 { return b.Labels[r*b.Width : (r+1)*b.Width] }

// Mask returns mask row r.
func (b *Batch) Mask(r int) []float32 { return b.Masks[r*b.Width : (r+1)*b.Width] }

// GetBatch assembles the next batch of split. Zero batchSize or seqPerImg
// use the configured defaults.
//
// Errors from feature loading, a queue order mismatch
// (prefetch.ErrOutOfOrder) and images without captions
// (datasets.ErrNoCaptions) are not recoverable: the split's position is
// undefined afterward.
func (l *Loader) GetBatch(split datasets.Split, batchSize, seqPerImg int) (*Batch, error) {
	st, err := l.state(split)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = l.opts.BatchSize
	}
	if seqPerImg <= 0 {
		seqPerImg = l.opts.SeqPerImg
	}

	seqLength := l.labels.SeqLength()
	rows := batchSize * seqPerImg
	b := &Batch{
		Rows:   rows,
		Width:  seqLength + 2,
		Gts:    make([][][]int32, 0, batchSize),
		Infos:  make([]ImageInfo, 0, batchSize),
		Bounds: Bounds{ItPosNow: st.cursor.Pos, ItMax: st.size},
	}
	b.Labels = make([]int32, rows*b.Width)

	for i := range batchSize {
		item, err := st.fetcher.Get()
		if err != nil {
			return nil, err
		}
		feats := item.Value
		if i == 0 {
			b.FCDims = append([]int{rows}, feats.DenseDims...)
			b.AttDims = append([]int{rows}, feats.SpatialDims...)
			b.FC = make([]float32, 0, rows*len(feats.Dense))
			b.Att = make([]float32, 0, rows*len(feats.Spatial))
		} else if !slices.Equal(b.FCDims[1:], feats.DenseDims) || !slices.Equal(b.AttDims[1:], feats.SpatialDims) {
			return nil, errors.Errorf("image %d features have shapes %v/%v, batch has %v/%v",
				item.Ix, feats.DenseDims, feats.SpatialDims, b.FCDims[1:], b.AttDims[1:])
		}
		for range seqPerImg {
			b.FC = append(b.FC, feats.Dense...)
			b.Att = append(b.Att, feats.Spatial...)
		}

		start, end, err := l.labels.Range(item.Ix)
		if err != nil {
			return nil, err
		}
		picked, err := l.sampler.Rows(start, end, seqPerImg)
		if err != nil {
			return nil, errors.WithMessagef(err, "image %d", item.Ix)
		}
		for q, r := range picked {
			row := i*seqPerImg + q
			copy(b.Label(row)[1:], l.labels.Row(r))
		}

		b.Gts = append(b.Gts, l.labels.Rows(start, end))
		rec := l.info.Images[item.Ix]
		b.Infos = append(b.Infos, ImageInfo{Ix: item.Ix, ID: rec.ID, FilePath: rec.FilePath})
		if item.Wrapped {
			b.Bounds.Wrapped = true
		}
	}

	b.Masks = make([]float32, rows*b.Width)
	fillMasks(b.Masks, b.Labels, b.Width)
	klog.V(2).Infof("%s: batch of %d images at position %d/%d (wrapped=%v)",
		split, batchSize, b.Bounds.ItPosNow, b.Bounds.ItMax, b.Bounds.Wrapped)
	return b, nil
}

// fillMasks sets, for each row of labels, the first min(k+2, width) mask
// entries to 1, where k is the number of nonzero tokens in the row.
func fillMasks(masks []float32, labels []int32, width int) {
	for r := 0; r*width < len(labels); r++ {
		k := 0
		for _, tok := range labels[r*width : (r+1)*width] {
			if tok != 0 {
				k++
			}
		}
		row := masks[r*width : (r+1)*width]
		for c := range min(k+2, width) {
			row[c] = 1
		}
	}
}

// ToGomlxTensors converts the batch to gomlx tensors: inputs are the dense
// and spatial features, labels are the label matrix and its mask.
func (b *Batch) ToGomlxTensors() (inputs, labels []*tensors.Tensor) {
	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(b.FC, b.FCDims...),
		tensors.FromFlatDataAndDimensions(b.Att, b.AttDims...),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(b.Labels, b.Rows, b.Width),
		tensors.FromFlatDataAndDimensions(b.Masks, b.Rows, b.Width),
	}
	return inputs, labels
}
