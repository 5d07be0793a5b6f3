package datasets

import (
	"fmt"
	"strings"
)

// This package holds the read-only side of the captioning data pipeline: the
// dataset index (image records and their split), the label store (caption
// token rows) and the feature reader (precomputed per-image feature files).
//
// Everything here is loaded once at startup and treated as immutable
// afterward, so it is safe to share across the per-split prefetch workers.
//
// Layout and intended usage:
//
// Info
//   - Parsed from the preprocessing JSON: ix_to_word plus an ordered list of
//     images with {id, file_path, split}.
//   - Partition splits the image list into train/val/test index sequences.
//
// LabelStore
//   - A [rows, seqLength] integer matrix of caption tokens, plus the
//     label_start_ix/label_end_ix pointers (1-based, inclusive) mapping an
//     image index to its caption rows.
//   - Backed by a .npz archive or an HDF5 file (see the hdf5 subpackage).
//
// FeatureReader
//   - Loads <fcDir>/<id>.npy (dense) and, when attention features are
//     enabled, <attDir>/<id>.npz["feat"] (spatial) for one image.

// Split names one of the three disjoint partitions of the dataset index.
type Split int

const (
	Train Split = iota
	Val
	Test

	// NumSplits is the number of splits; Split values index arrays of this size.
	NumSplits = 3
)

// AllSplits lists the splits in index order.
var AllSplits = [NumSplits]Split{Train, Val, Test}

var splitNames = [NumSplits]string{"train", "val", "test"}

// String returns the split name as used in the dataset JSON.
func (s Split) String() string {
	if s < 0 || int(s) >= NumSplits {
		return fmt.Sprintf("Split(%d)", int(s))
	}
	return splitNames[s]
}

// ParseSplit converts a split name ("train", "val" or "test") to a Split.
func ParseSplit(name string) (Split, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for i, n := range splitNames {
		if n == name {
			return Split(i), nil
		}
	}
	return 0, fmt.Errorf("unknown split %q", name)
}
