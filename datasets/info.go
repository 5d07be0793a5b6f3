package datasets

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageID is the dataset identifier of an image. It is also the file name stem
// of the image's feature files. The preprocessing JSON may store it either as
// a number or as a string.
type ImageID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ImageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ImageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrapf(err, "image id %s is neither a string nor a number", string(data))
	}
	*id = ImageID(n.String())
	return nil
}

// ImageRecord is one entry of the dataset index.
type ImageRecord struct {
	ID       ImageID `json:"id"`
	FilePath string  `json:"file_path"`
	Split    string  `json:"split"`
}

// Info is the preprocessing JSON: the vocabulary and the ordered image list.
// The position of an image in Images is its image index, which is also the
// index into the label store pointers.
type Info struct {
	IxToWord map[string]string `json:"ix_to_word"`
	Images   []ImageRecord     `json:"images"`
}

// LoadInfo reads and parses the preprocessing JSON at path.
func LoadInfo(path string) (*Info, error) {
	klog.Infof("loading dataset json %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset json %q", path)
	}
	info := &Info{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset json %q", path)
	}
	klog.Infof("vocab size is %d, %d images indexed", len(info.IxToWord), len(info.Images))
	return info, nil
}

// VocabSize returns the number of words in the vocabulary.
func (info *Info) VocabSize() int {
	return len(info.IxToWord)
}

// SplitIndex holds, per split, the ordered image indices assigned to it.
type SplitIndex [NumSplits][]int

// Partition assigns every image to the split named in its record. Images with
// any other split name (e.g. "restval") are folded into Train unless
// trainOnly is set, in which case they are left out. Relative order of the
// images is kept inside each split.
func Partition(images []ImageRecord, trainOnly bool) SplitIndex {
	var idx SplitIndex
	for ix, img := range images {
		split, err := ParseSplit(img.Split)
		if err != nil {
			if trainOnly {
				continue
			}
			split = Train
		}
		idx[split] = append(idx[split], ix)
	}
	for _, split := range AllSplits {
		klog.Infof("assigned %d images to split %s", len(idx[split]), split)
	}
	return idx
}
