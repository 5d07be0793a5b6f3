// Package loader assembles captioning mini-batches from the dataset index,
// the label store and prefetched per-image features.
//
// A Loader owns one prefetch.Fetcher per split. The training split is
// reshuffled on every pass; validation and test are always served in index
// order. A Loader must be driven from a single goroutine, and closed when done
// so the prefetch pools are drained and stopped:
//
//	l, err := loader.New(opts)
//	if err != nil { ... }
//	defer l.Close()
//	batch, err := l.GetBatch(datasets.Train, 0, 0)
package loader

import (
	"math/rand"
	"slices"
	"time"

	"github.com/Noofbiz/captionLoader/datasets"
	"github.com/Noofbiz/captionLoader/prefetch"
	"github.com/Noofbiz/captionLoader/sampler"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FeatureSource loads the features of one image. datasets.FeatureReader is
// the file-backed implementation. Load is called from the prefetch pools and
// must be safe for concurrent use.
type FeatureSource interface {
	Load(ix int) (*datasets.Features, error)
}

type splitState struct {
	split   datasets.Split
	size    int
	cursor  *prefetch.Cursor
	fetcher *prefetch.Fetcher[*datasets.Features]
}

// Loader serves mini-batches for the train, val and test splits.
type Loader struct {
	opts    Options
	info    *datasets.Info
	labels  *datasets.LabelStore
	source  FeatureSource
	sampler *sampler.Sampler
	seed    int64

	splits [datasets.NumSplits]*splitState
	closed bool
}

// New opens the dataset JSON, the label store and the feature directories
// named in opts, and starts the prefetch pools.
func New(opts Options) (*Loader, error) {
	if err := opts.validateFiles(); err != nil {
		return nil, err
	}
	info, err := datasets.LoadInfo(opts.InputJSON)
	if err != nil {
		return nil, err
	}
	labels, err := datasets.OpenLabelStore(opts.InputLabelH5)
	if err != nil {
		return nil, err
	}
	reader, err := datasets.NewFeatureReader(opts.InputFCDir, opts.InputAttDir, opts.UseAtt,
		info.Images, opts.FeatureCacheSize)
	if err != nil {
		return nil, err
	}
	return NewFromParts(info, labels, reader, opts)
}

// NewFromParts builds a Loader from already loaded parts. Only the batch,
// prefetch and seed fields of opts are used.
func NewFromParts(info *datasets.Info, labels *datasets.LabelStore, source FeatureSource, opts Options) (*Loader, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(info.Images) > labels.NumImages() {
		return nil, errors.Errorf("dataset json lists %d images but the label store only has pointers for %d",
			len(info.Images), labels.NumImages())
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := &Loader{
		opts:    opts,
		info:    info,
		labels:  labels,
		source:  source,
		sampler: sampler.New(seed),
		seed:    seed,
	}

	index := datasets.Partition(info.Images, opts.TrainOnly)
	for _, split := range datasets.AllSplits {
		st := &splitState{
			split:  split,
			size:   len(index[split]),
			cursor: &prefetch.Cursor{Index: index[split]},
		}
		l.splits[split] = st
		if err := l.startFetcher(st); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	klog.Infof("loader ready: vocab size %d, sequence length %d, %d workers per split, depth %d",
		info.VocabSize(), labels.SeqLength(), opts.Workers, opts.PrefetchDepth)
	return l, nil
}

func (l *Loader) startFetcher(st *splitState) error {
	fetcher, err := prefetch.New(st.cursor, l.source.Load, prefetch.Config{
		Name:     st.split.String(),
		Workers:  l.opts.Workers,
		Depth:    l.opts.PrefetchDepth,
		LowWater: l.opts.LowWater,
		Shuffle:  st.split == datasets.Train,
		Rand:     rand.New(rand.NewSource(l.seed + int64(st.split) + 1)),
	})
	if err != nil {
		return errors.WithMessagef(err, "starting %s prefetch", st.split)
	}
	st.fetcher = fetcher
	return nil
}

func (l *Loader) state(split datasets.Split) (*splitState, error) {
	if l.closed {
		return nil, errors.Wrapf(prefetch.ErrClosed, "loader")
	}
	if split < 0 || int(split) >= datasets.NumSplits {
		return nil, errors.Errorf("invalid split %s", split)
	}
	return l.splits[split], nil
}

// ResetIterator stops the split's prefetching, discarding whatever was
// queued, and restarts it from the first position of the split.
func (l *Loader) ResetIterator(split datasets.Split) error {
	st, err := l.state(split)
	if err != nil {
		return err
	}
	if st.fetcher != nil {
		if err := st.fetcher.Close(); err != nil {
			return err
		}
		st.fetcher = nil
	}
	st.cursor.Pos = 0
	return l.startFetcher(st)
}

// Close drains and stops the prefetch pools of all splits. The Loader can't
// be used afterward. It is safe to call more than once.
func (l *Loader) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var firstErr error
	for _, st := range l.splits {
		if st == nil || st.fetcher == nil {
			continue
		}
		if err := st.fetcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	klog.V(1).Infof("loader closed")
	return firstErr
}

// VocabSize is the number of words in the vocabulary.
func (l *Loader) VocabSize() int { return l.info.VocabSize() }

// Vocab maps token ids (as strings) to words.
func (l *Loader) Vocab() map[string]string { return l.info.IxToWord }

// SeqLength is the maximum caption length in the label store.
func (l *Loader) SeqLength() int { return l.labels.SeqLength() }

// SplitSize is the number of images assigned to split.
func (l *Loader) SplitSize(split datasets.Split) int {
	if split < 0 || int(split) >= datasets.NumSplits {
		return 0
	}
	return l.splits[split].size
}

// Position is the split's cursor: the position of the next image to be
// served within the current pass.
func (l *Loader) Position(split datasets.Split) int {
	if split < 0 || int(split) >= datasets.NumSplits {
		return 0
	}
	return l.splits[split].cursor.Pos
}

// Order returns a copy of the split's order for the current pass.
func (l *Loader) Order(split datasets.Split) []int {
	if split < 0 || int(split) >= datasets.NumSplits {
		return nil
	}
	return slices.Clone(l.splits[split].cursor.Index)
}
