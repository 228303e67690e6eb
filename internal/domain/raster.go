package domain

import (
	"errors"
	"fmt"
	"math"
)

// DataType is the per-pixel sample type recorded in raster metadata.
type DataType int

const (
	Uint8 DataType = iota + 1
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

func (t DataType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// Size returns the number of bytes per sample, or 0 for an unknown type.
func (t DataType) Size() int {
	switch t {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// GeoTransform is a GDAL-ordered affine transform:
// originX, pixelWidth, rotationX, originY, rotationY, pixelHeight.
// North-up rasters have zero rotation and a negative pixelHeight.
type GeoTransform [6]float64

// NorthUp reports whether the transform has no rotation terms.
func (g GeoTransform) NorthUp() bool { return g[2] == 0 && g[4] == 0 }

// PixelCenter returns the map coordinates of the centre of cell (row, col).
func (g GeoTransform) PixelCenter(row, col int) (x, y float64) {
	c := float64(col) + 0.5
	r := float64(row) + 0.5
	return g[0] + c*g[1] + r*g[2], g[3] + c*g[4] + r*g[5]
}

// Metadata is the georeferencing and layout information carried by a raster.
type Metadata struct {
	Width     int
	Height    int
	Bands     int
	DataType  DataType
	Transform GeoTransform
	EPSG      int
	NoData    *float64
}

// Cells returns the number of samples across all bands.
func (m Metadata) Cells() int { return m.Width * m.Height * m.Bands }

// Clone returns a deep copy so callers can mutate the result freely.
func (m Metadata) Clone() Metadata {
	out := m
	if m.NoData != nil {
		v := *m.NoData
		out.NoData = &v
	}
	return out
}

// gridTolerance absorbs float noise from transforms that went through text
// or tag round trips.
const gridTolerance = 1e-9

// SameGrid returns an error describing the first difference in shape or
// georeferencing between m and o, or nil if both describe the same grid.
func (m Metadata) SameGrid(o Metadata) error {
	if m.Bands != o.Bands || m.Height != o.Height || m.Width != o.Width {
		return fmt.Errorf("shape %dx%dx%d != %dx%dx%d",
			m.Bands, m.Height, m.Width, o.Bands, o.Height, o.Width)
	}
	if m.EPSG != o.EPSG {
		return fmt.Errorf("crs EPSG:%d != EPSG:%d", m.EPSG, o.EPSG)
	}
	for i := range m.Transform {
		if math.Abs(m.Transform[i]-o.Transform[i]) > gridTolerance {
			return fmt.Errorf("transform %v != %v", m.Transform, o.Transform)
		}
	}
	return nil
}

// Raster is a band-major (band, row, column) sample array with its metadata.
type Raster struct {
	Meta Metadata
	Data []float64
}

// NewRaster allocates a zeroed raster for the given metadata.
func NewRaster(meta Metadata) *Raster {
	return &Raster{Meta: meta, Data: make([]float64, meta.Cells())}
}

// Validate checks that the data length matches the recorded dimensions.
func (r *Raster) Validate() error {
	if r == nil {
		return errors.New("nil raster")
	}
	if r.Meta.Width <= 0 || r.Meta.Height <= 0 || r.Meta.Bands <= 0 {
		return fmt.Errorf("invalid dimensions %dx%dx%d", r.Meta.Bands, r.Meta.Height, r.Meta.Width)
	}
	if len(r.Data) != r.Meta.Cells() {
		return fmt.Errorf("data length %d does not match %dx%dx%d",
			len(r.Data), r.Meta.Bands, r.Meta.Height, r.Meta.Width)
	}
	return nil
}

// At returns the sample at (band, row, col).
func (r *Raster) At(band, row, col int) float64 {
	return r.Data[r.index(band, row, col)]
}

// Set stores v at (band, row, col).
func (r *Raster) Set(band, row, col int, v float64) {
	r.Data[r.index(band, row, col)] = v
}

func (r *Raster) index(band, row, col int) int {
	return (band*r.Meta.Height+row)*r.Meta.Width + col
}

// IsNoData reports whether v equals the raster's nodata sentinel.
func (m Metadata) IsNoData(v float64) bool {
	if m.NoData == nil {
		return false
	}
	nd := *m.NoData
	if math.IsNaN(nd) {
		return math.IsNaN(v)
	}
	return v == nd
}
