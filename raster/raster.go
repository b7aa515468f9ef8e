package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DType is the pixel type of a raster product
type DType int

const (
	Float32 DType = iota
	Float64
	Byte
)

// ISCEName returns the data type name used in ISCE XML sidecars
func (d DType) ISCEName() string {
	switch d {
	case Float32:
		return "FLOAT"
	case Float64:
		return "DOUBLE"
	case Byte:
		return "BYTE"
	}
	return "UNKNOWN"
}

// VRTName returns the data type name used in GDAL VRT descriptors
func (d DType) VRTName() string {
	switch d {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Byte:
		return "Byte"
	}
	return "Unknown"
}

// Size returns the pixel size in bytes
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	}
	return 1
}

// DTypeFromISCE returns the DType matching an ISCE data_type property
func DTypeFromISCE(name string) (DType, error) {
	switch strings.ToUpper(name) {
	case "FLOAT":
		return Float32, nil
	case "DOUBLE":
		return Float64, nil
	case "BYTE":
		return Byte, nil
	}
	return 0, fmt.Errorf("DTypeFromISCE: unsupported data type %q", name)
}

// Scheme is the interleaving scheme of the image on disk
type Scheme string

const (
	BIL Scheme = "BIL" // band interleaved by line: (length, bands, width)
	BSQ Scheme = "BSQ" // band sequential: (bands, length, width)
	BIP Scheme = "BIP" // band interleaved by pixel: (length, width, bands)
)

// SchemeFromString validates an interleaving scheme name
func SchemeFromString(name string) (Scheme, error) {
	switch s := Scheme(strings.ToUpper(name)); s {
	case BIL, BSQ, BIP:
		return s, nil
	}
	return "", fmt.Errorf("SchemeFromString: unsupported scheme %q", name)
}

// GeoRef georeferences a product in geographic coordinates. Line 0 starts
// at FirstLat and advances by DeltaLat (negative for north-up products).
type GeoRef struct {
	FirstLon float64
	FirstLat float64
	DeltaLon float64
	DeltaLat float64
}

// Desc describes the on-disk layout of a raster product
type Desc struct {
	Width  int
	Length int
	Bands  int
	Scheme Scheme
	DType  DType
	Geo    *GeoRef
}

func (d Desc) size() int {
	return d.Width * d.Length * d.Bands * d.DType.Size()
}

// offset returns the file offset of pixel (band, line, sample)
func (d Desc) offset(b, l, s int) int {
	sz := d.DType.Size()
	switch d.Scheme {
	case BSQ:
		return ((b*d.Length+l)*d.Width + s) * sz
	case BIP:
		return ((l*d.Width+s)*d.Bands + b) * sz
	}
	return ((l*d.Bands+b)*d.Width + s) * sz
}

// Image is an in-memory raster. Pixels are float32 band-major whatever the
// on-disk interleave: Data[(band*Length+line)*Width+sample].
type Image struct {
	Width  int
	Length int
	Bands  int
	Scheme Scheme
	Data   []float32
}

// New allocates a zeroed image
func New(bands, length, width int, scheme Scheme) *Image {
	return &Image{
		Width:  width,
		Length: length,
		Bands:  bands,
		Scheme: scheme,
		Data:   make([]float32, bands*length*width),
	}
}

// At returns the pixel (band, line, sample)
func (im *Image) At(b, l, s int) float32 {
	return im.Data[(b*im.Length+l)*im.Width+s]
}

// Set writes the pixel (band, line, sample)
func (im *Image) Set(b, l, s int, v float32) {
	im.Data[(b*im.Length+l)*im.Width+s] = v
}

// Band returns the pixels of one band as a (length*width) slice
func (im *Image) Band(b int) []float32 {
	n := im.Length * im.Width
	return im.Data[b*n : (b+1)*n]
}

// ReadImage loads an ISCE raster product, using <path>.xml to learn the
// layout. Pixels are converted to float32 whatever the stored type.
func ReadImage(path string) (*Image, error) {
	desc, err := ReadDesc(path + ".xml")
	if err != nil {
		return nil, fmt.Errorf("ReadImage.%w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadImage.%w", err)
	}
	if len(raw) != desc.size() {
		return nil, fmt.Errorf("ReadImage[%s]: file size %d does not match %dx%dx%d %s pixels",
			path, len(raw), desc.Bands, desc.Length, desc.Width, desc.DType.ISCEName())
	}

	im := New(desc.Bands, desc.Length, desc.Width, desc.Scheme)
	for b := 0; b < desc.Bands; b++ {
		for l := 0; l < desc.Length; l++ {
			for s := 0; s < desc.Width; s++ {
				off := desc.offset(b, l, s)
				var v float32
				switch desc.DType {
				case Float32:
					v = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
				case Float64:
					v = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[off:])))
				case Byte:
					v = float32(raw[off])
				}
				im.Set(b, l, s, v)
			}
		}
	}
	return im, nil
}

// Write stores the image as little-endian float32 in its interleaving
// scheme, along with the XML and VRT sidecars.
func (im *Image) Write(path string) error {
	desc := Desc{Width: im.Width, Length: im.Length, Bands: im.Bands, Scheme: im.Scheme, DType: Float32}
	buf := make([]byte, desc.size())
	for b := 0; b < im.Bands; b++ {
		for l := 0; l < im.Length; l++ {
			for s := 0; s < im.Width; s++ {
				binary.LittleEndian.PutUint32(buf[desc.offset(b, l, s):], math.Float32bits(im.At(b, l, s)))
			}
		}
	}
	return WriteRaw(path, desc, buf)
}

// WriteRaw stores a prebuilt raw payload with its sidecars, for products
// that are not float32 (the int8 water mask).
func WriteRaw(path string, desc Desc, data []byte) error {
	if len(data) != desc.size() {
		return fmt.Errorf("WriteRaw[%s]: payload size %d does not match %dx%dx%d %s pixels",
			path, len(data), desc.Bands, desc.Length, desc.Width, desc.DType.ISCEName())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0766); err != nil {
			return fmt.Errorf("WriteRaw.%w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("WriteRaw.%w", err)
	}
	if err := writeXML(path, desc); err != nil {
		return fmt.Errorf("WriteRaw.%w", err)
	}
	if err := writeVRT(path, desc); err != nil {
		return fmt.Errorf("WriteRaw.%w", err)
	}
	return nil
}
