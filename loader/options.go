package loader

import (
	"encoding/json"
	"os"

	"github.com/Noofbiz/captionLoader/prefetch"
	"github.com/pkg/errors"
)

// Options configures a Loader. It can be read from JSON with LoadOptions;
// zero values take the defaults documented on each field.
type Options struct {
	// InputJSON is the preprocessing JSON with ix_to_word and images.
	InputJSON string `json:"input_json"`

	// InputLabelH5 is the label store, .h5/.hdf5 or .npz.
	InputLabelH5 string `json:"input_label_h5"`

	// InputFCDir holds <id>.npy dense features, InputAttDir <id>.npz spatial ones.
	InputFCDir  string `json:"input_fc_dir"`
	InputAttDir string `json:"input_att_dir"`

	// BatchSize is the default number of images per batch (10).
	BatchSize int `json:"batch_size"`

	// SeqPerImg is the default number of captions per image (5).
	SeqPerImg int `json:"seq_per_img"`

	// UseAtt enables loading spatial features.
	UseAtt bool `json:"use_att"`

	// TrainOnly drops images whose split is not train/val/test instead of
	// folding them into train.
	TrainOnly bool `json:"train_only"`

	// Workers is the per-split load pool size (runtime.NumCPU()).
	Workers int `json:"workers"`

	// PrefetchDepth (512) and LowWater (400) bound each split's queue.
	PrefetchDepth int `json:"prefetch_depth"`
	LowWater      int `json:"low_water"`

	// FeatureCacheSize keeps that many decoded images in memory; 0 disables it.
	FeatureCacheSize int `json:"feature_cache_size"`

	// Seed seeds caption sampling and shuffling; 0 uses the current time.
	Seed int64 `json:"seed"`
}

const (
	defaultBatchSize = 10
	defaultSeqPerImg = 5
)

// LoadOptions reads Options from a JSON file.
func LoadOptions(path string) (Options, error) {
	var opts Options
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "failed to read options %q", path)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "failed to parse options %q", path)
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.SeqPerImg <= 0 {
		o.SeqPerImg = defaultSeqPerImg
	}
	if o.PrefetchDepth <= 0 {
		o.PrefetchDepth = prefetch.DefaultDepth
	}
	if o.LowWater <= 0 {
		o.LowWater = min(prefetch.DefaultLowWater, o.PrefetchDepth)
	}
	return o
}

func (o Options) validate() error {
	if o.LowWater > o.PrefetchDepth {
		return errors.Errorf("low_water %d exceeds prefetch_depth %d", o.LowWater, o.PrefetchDepth)
	}
	if o.FeatureCacheSize < 0 {
		return errors.Errorf("feature_cache_size must not be negative, got %d", o.FeatureCacheSize)
	}
	return nil
}

// validateFiles checks the options needed to open a Loader from disk.
func (o Options) validateFiles() error {
	if o.InputJSON == "" {
		return errors.New("input_json is required")
	}
	if o.InputLabelH5 == "" {
		return errors.New("input_label_h5 is required")
	}
	if o.InputFCDir == "" {
		return errors.New("input_fc_dir is required")
	}
	if o.UseAtt && o.InputAttDir == "" {
		return errors.New("input_att_dir is required when use_att is set")
	}
	return nil
}
