package main

// Example command that loads a captioning dataset's index and label store and
// prints a summary: vocabulary size, sequence length, and per split the image
// count and the spread of captions per image.
//
// Usage:
//   go run ./datasets/example --input-json data.json --input-label-h5 labels.npz
//
// Images without captions are reported; the loader refuses to serve them.

import (
	"fmt"
	"log"

	"github.com/Noofbiz/captionLoader/datasets"
	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
)

func main() {
	args := struct {
		InputJSON    string `arg:"--input-json,required" help:"preprocessing JSON"`
		InputLabelH5 string `arg:"--input-label-h5,required" help:"label store (.h5, .hdf5 or .npz)"`
		TrainOnly    bool   `arg:"--train-only" help:"drop images outside train/val/test"`
		Words        int    `arg:"--words" default:"10" help:"vocabulary entries to print"`
	}{}
	arg.MustParse(&args)

	info, err := datasets.LoadInfo(args.InputJSON)
	if err != nil {
		log.Fatalf("failed to load dataset json: %+v", err)
	}
	labels, err := datasets.OpenLabelStore(args.InputLabelH5)
	if err != nil {
		log.Fatalf("failed to load label store: %+v", err)
	}
	if len(info.Images) > labels.NumImages() {
		log.Fatalf("dataset json has %d images but the label store only %d", len(info.Images), labels.NumImages())
	}

	fmt.Printf("Vocabulary size: %d\n", info.VocabSize())
	for i := 1; i <= min(args.Words, info.VocabSize()); i++ {
		fmt.Printf("  %d: %s\n", i, info.IxToWord[fmt.Sprint(i)])
	}
	fmt.Printf("Sequence length: %d, caption rows: %d\n", labels.SeqLength(), labels.NumRows())

	index := datasets.Partition(info.Images, args.TrainOnly)
	for _, split := range datasets.AllSplits {
		ixs := index[split]
		fmt.Printf("\nSplit %s: %d images\n", split, len(ixs))
		if len(ixs) == 0 {
			continue
		}
		minCaps, maxCaps, total, empty := -1, 0, 0, 0
		for _, ix := range ixs {
			start, end, err := labels.Range(ix)
			if errors.Is(err, datasets.ErrNoCaptions) {
				empty++
				continue
			} else if err != nil {
				log.Fatalf("image %d: %+v", ix, err)
			}
			n := end - start + 1
			total += n
			maxCaps = max(maxCaps, n)
			if minCaps < 0 || n < minCaps {
				minCaps = n
			}
		}
		fmt.Printf("  captions per image: min %d, max %d, mean %.2f\n",
			minCaps, maxCaps, float64(total)/float64(len(ixs)-empty))
		if empty > 0 {
			fmt.Printf("  %d images have no captions\n", empty)
		}
		first := info.Images[ixs[0]]
		fmt.Printf("  first image: id %s, %s\n", first.ID, first.FilePath)
	}
}
