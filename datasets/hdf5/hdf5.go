// Package hdf5 reads integer and float datasets out of an HDF5 file.
//
// It requires the `h5dump` binary (deb package `hdf5-tools`) in the PATH: the
// file is listed with `h5dump --contents`, dataset headers are parsed from
// `h5dump --header`, and contents are extracted as raw little-endian bytes.
package hdf5

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// H5DumpBinary is the name of the tool used to access HDF5 files.
const H5DumpBinary = "h5dump"

// Contents maps the full path of every dataset in a file (group path plus
// dataset name, e.g. "/labels") to its metadata.
type Contents map[string]*Dataset

// Dataset is the metadata of one HDF5 dataset; the data itself is only read
// by Load.
type Dataset struct {
	FilePath, GroupPath, RawHeader string

	// DType is dtypes.InvalidDType when the HDF5 type isn't supported.
	DType dtypes.DType

	// Dims is nil for scalars and for unparseable dataspaces.
	Dims []int
}

var (
	regexpDatasets        = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	regexpHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// ParseFile lists the datasets of the HDF5 file at filePath and parses their
// headers.
func ParseFile(filePath string) (Contents, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, errors.Wrapf(err, "cannot access HDF5 file %q", filePath)
	}
	listing, err := execH5Dump("--contents", filePath)
	if err != nil {
		return nil, err
	}
	contents := parseContents(filePath, string(listing))
	if len(contents) == 0 {
		return contents, nil
	}

	args := make([]string, 0, len(contents)+2)
	args = append(args, "--header")
	for key := range contents {
		args = append(args, "--dataset="+key)
	}
	args = append(args, filePath)
	header, err := execH5Dump(args...)
	if err != nil {
		return nil, err
	}
	if err := contents.parseHeaders(string(header)); err != nil {
		return nil, errors.WithMessagef(err, "HDF5 file %q", filePath)
	}
	return contents, nil
}

func parseContents(filePath, listing string) Contents {
	matches := regexpDatasets.FindAllStringSubmatch(listing, -1)
	contents := make(Contents, len(matches))
	for _, match := range matches {
		contents[match[1]] = &Dataset{
			FilePath:  filePath,
			GroupPath: match[1],
			DType:     dtypes.InvalidDType,
		}
	}
	return contents
}

func (contents Contents) parseHeaders(header string) error {
	parts := strings.Split(header, "DATASET")
	if len(parts)-1 != len(contents) {
		return errors.Errorf("failed to parse dataset headers: expected %d DATASET, got %d",
			len(contents), len(parts)-1)
	}
	for _, part := range parts[1:] {
		matches := regexpHeaderName.FindStringSubmatch(part)
		if len(matches) != 2 {
			return errors.Errorf("failed to parse dataset header %q", part)
		}
		ds, found := contents[matches[1]]
		if !found {
			return errors.Errorf("header for unlisted dataset %q", matches[1])
		}
		ds.RawHeader = "DATASET" + part

		matches = regexpHeaderDataType.FindStringSubmatch(part)
		if len(matches) != 2 {
			continue
		}
		ds.DType = DTypeForH5T(matches[1])

		matches = regexpHeaderDataSpace.FindStringSubmatch(part)
		if len(matches) != 4 {
			klog.V(1).Infof("DATASPACE not parsed for %s", ds.GroupPath)
			continue
		}
		switch matches[1] {
		case "SCALAR":
			ds.Dims = []int{}
		case "SIMPLE":
			dims, err := parseDims(matches[3])
			if err != nil {
				klog.V(1).Infof("DATASPACE dimensions not parsed for %s: %v", ds.GroupPath, err)
				continue
			}
			ds.Dims = dims
		default:
			klog.V(1).Infof("DATASPACE type %q unsupported for %s", matches[1], ds.GroupPath)
		}
	}
	return nil
}

func parseDims(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	dims := make([]int, 0, len(parts))
	for _, p := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "dimension %q", p)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

// DTypeForH5T returns the DType for the HDF5 type name, or
// dtypes.InvalidDType if it isn't supported.
func DTypeForH5T(h5type string) dtypes.DType {
	switch strings.TrimSuffix(strings.TrimSuffix(h5type, "LE"), "BE") {
	case "H5T_IEEE_F32":
		return dtypes.Float32
	case "H5T_IEEE_F64":
		return dtypes.Float64
	case "H5T_STD_I8":
		return dtypes.Int8
	case "H5T_STD_I16":
		return dtypes.Int16
	case "H5T_STD_I32":
		return dtypes.Int32
	case "H5T_STD_I64":
		return dtypes.Int64
	case "H5T_STD_U8":
		return dtypes.Uint8
	case "H5T_STD_U16":
		return dtypes.Uint16
	case "H5T_STD_U32":
		return dtypes.Uint32
	case "H5T_STD_U64":
		return dtypes.Uint64
	}
	return dtypes.InvalidDType
}

// Size is the number of elements in the dataset.
func (ds *Dataset) Size() int {
	size := 1
	for _, d := range ds.Dims {
		size *= d
	}
	return size
}

// Load extracts the raw little-endian contents of the dataset.
func (ds *Dataset) Load() ([]byte, error) {
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
	}
	defer func() {
		if err := os.Remove(tmpFile.Name()); err != nil {
			klog.Warningf("failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), err)
		}
	}()
	if _, err := execH5Dump("--dataset="+ds.GroupPath, "--binary=LE", "--output="+tmpFile.Name(), ds.FilePath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read HDF5 dataset %q extracted to %q", ds.GroupPath, tmpFile.Name())
	}
	return raw, nil
}

// Ints loads an integer dataset and converts it to []int.
func (ds *Dataset) Ints() ([]int, error) {
	raw, err := ds.Load()
	if err != nil {
		return nil, err
	}
	return DecodeInts(ds.DType, raw)
}

// DecodeInts converts little-endian raw bytes of the given integer dtype.
func DecodeInts(dtype dtypes.DType, raw []byte) ([]int, error) {
	var size int
	switch dtype {
	case dtypes.Int8, dtypes.Uint8:
		size = 1
	case dtypes.Int16, dtypes.Uint16:
		size = 2
	case dtypes.Int32, dtypes.Uint32:
		size = 4
	case dtypes.Int64, dtypes.Uint64:
		size = 8
	default:
		return nil, errors.Errorf("dtype %s is not an integer type", dtype)
	}
	if len(raw)%size != 0 {
		return nil, errors.Errorf("%d bytes is not a multiple of the %s size %d", len(raw), dtype, size)
	}
	out := make([]int, len(raw)/size)
	le := binary.LittleEndian
	for i := range out {
		b := raw[i*size:]
		switch dtype {
		case dtypes.Int8:
			out[i] = int(int8(b[0]))
		case dtypes.Uint8:
			out[i] = int(b[0])
		case dtypes.Int16:
			out[i] = int(int16(le.Uint16(b)))
		case dtypes.Uint16:
			out[i] = int(le.Uint16(b))
		case dtypes.Int32:
			out[i] = int(int32(le.Uint32(b)))
		case dtypes.Uint32:
			out[i] = int(le.Uint32(b))
		case dtypes.Int64:
			out[i] = int(int64(le.Uint64(b)))
		case dtypes.Uint64:
			v := le.Uint64(b)
			if v > math.MaxInt64 {
				return nil, errors.Errorf("value %d at %d overflows int", v, i)
			}
			out[i] = int(v)
		}
	}
	return out, nil
}

func execH5Dump(args ...string) ([]byte, error) {
	binPath, err := exec.LookPath(H5DumpBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find %q in PATH, needed to read HDF5 files -- "+
			"please install the hdf5-tools package", H5DumpBinary)
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	cmd := exec.Command(binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		return nil, errors.WithMessagef(err, "STDERR captured:\n%s\n", stderr.String())
	}
	return stdout.Bytes(), nil
}
