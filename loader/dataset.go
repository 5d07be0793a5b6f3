package loader

import (
	"fmt"

	"github.com/Noofbiz/captionLoader/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// SplitDataset serves the batches of one split through the method set of a
// gomlx train.Dataset. It loops over the split forever; Reset restarts it.
type SplitDataset struct {
	loader *Loader
	split  datasets.Split

	BatchSize, SeqPerImg int
}

// Dataset returns a SplitDataset over split using the configured batch
// sizes.
func (l *Loader) Dataset(split datasets.Split) *SplitDataset {
	return &SplitDataset{
		loader:    l,
		split:     split,
		BatchSize: l.opts.BatchSize,
		SeqPerImg: l.opts.SeqPerImg,
	}
}

// Name returns the name of the dataset.
func (d *SplitDataset) Name() string {
	return fmt.Sprintf("captions/%s", d.split)
}

// Reset restarts the split from its first image.
func (d *SplitDataset) Reset() {
	if err := d.loader.ResetIterator(d.split); err != nil {
		klog.Errorf("%s: reset failed: %+v", d.Name(), err)
	}
}

// Yield returns the next batch. The spec is the batch's Bounds.
func (d *SplitDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := d.loader.GetBatch(d.split, d.BatchSize, d.SeqPerImg)
	if err != nil {
		return nil, nil, nil, err
	}
	inputs, labels = b.ToGomlxTensors()
	return b.Bounds, inputs, labels, nil
}
