package geotiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/klauspost/compress/zlib"
)

// WriteFile encodes r to path. The file is written under a temporary name in
// the same directory and renamed into place, so path either holds a complete
// raster or is left untouched.
func WriteFile(path string, r *domain.Raster) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return domain.IOError("write raster", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, r); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return domain.IOError("write raster", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.IOError("write raster", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return domain.IOError("write raster", err)
	}
	return nil
}

type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes r as a little-endian, deflate-compressed, single-strip GeoTIFF.
// Samples are converted to the metadata's data type; integer types are
// rounded and clamped to their range.
func Encode(w io.Writer, r *domain.Raster) error {
	if err := r.Validate(); err != nil {
		return domain.IOError("encode raster", err)
	}
	meta := r.Meta
	bits, format, err := sampleLayout(meta.DataType)
	if err != nil {
		return domain.IOError("encode raster", err)
	}

	strip, err := compressStrip(r)
	if err != nil {
		return domain.IOError("encode raster", err)
	}

	le := binary.LittleEndian
	bands := uint32(meta.Bands)
	fields := []field{
		longField(tagImageWidth, uint32(meta.Width)),
		longField(tagImageLength, uint32(meta.Height)),
		shortField(tagBitsPerSample, repeat(bits, meta.Bands)...),
		shortField(tagCompression, compressionDeflate),
		shortField(tagPhotometricInterpretation, 1),
		longField(tagStripOffsets, 8),
		shortField(tagSamplesPerPixel, uint16(bands)),
		longField(tagRowsPerStrip, uint32(meta.Height)),
		longField(tagStripByteCounts, uint32(len(strip))),
		shortField(tagPlanarConfiguration, 1),
		shortField(tagSampleFormat, repeat(format, meta.Bands)...),
		shortField(tagGeoKeyDirectory, geoKeyDirectory(meta.EPSG)...),
	}
	if meta.Bands > 1 {
		fields = append(fields, shortField(tagExtraSamples, repeat(0, meta.Bands-1)...))
	}
	gt := meta.Transform
	if gt.NorthUp() && gt[5] < 0 {
		fields = append(fields,
			doubleField(tagModelPixelScale, gt[1], -gt[5], 0),
			doubleField(tagModelTiepoint, 0, 0, 0, gt[0], gt[3], 0),
		)
	} else {
		fields = append(fields, doubleField(tagModelTransformation,
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}
	if meta.NoData != nil {
		s := strconv.FormatFloat(*meta.NoData, 'g', -1, 64) + "\x00"
		fields = append(fields, field{tag: tagGDALNoData, typ: typeASCII, count: uint32(len(s)), data: []byte(s)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	ifdOffset := 8 + len(strip)
	ifdOffset += ifdOffset % 2
	extraOffset := ifdOffset + 2 + 12*len(fields) + 4

	var head, ifd, extra bytes.Buffer
	head.WriteString("II")
	_ = binary.Write(&head, le, uint16(42))
	_ = binary.Write(&head, le, uint32(ifdOffset))

	_ = binary.Write(&ifd, le, uint16(len(fields)))
	for _, f := range fields {
		_ = binary.Write(&ifd, le, f.tag)
		_ = binary.Write(&ifd, le, f.typ)
		_ = binary.Write(&ifd, le, f.count)
		if len(f.data) <= 4 {
			var inline [4]byte
			copy(inline[:], f.data)
			ifd.Write(inline[:])
			continue
		}
		_ = binary.Write(&ifd, le, uint32(extraOffset+extra.Len()))
		extra.Write(f.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(&ifd, le, uint32(0))

	parts := [][]byte{head.Bytes(), strip}
	if len(strip)%2 == 1 {
		parts = append(parts, []byte{0})
	}
	parts = append(parts, ifd.Bytes(), extra.Bytes())
	for _, p := range parts {
		if _, err := w.Write(p); err != nil {
			return domain.IOError("encode raster", err)
		}
	}
	return nil
}

func sampleLayout(dt domain.DataType) (bits, format uint16, err error) {
	switch dt {
	case domain.Uint8:
		return 8, sampleUint, nil
	case domain.Int16:
		return 16, sampleInt, nil
	case domain.Uint16:
		return 16, sampleUint, nil
	case domain.Int32:
		return 32, sampleInt, nil
	case domain.Uint32:
		return 32, sampleUint, nil
	case domain.Float32:
		return 32, sampleFloat, nil
	case domain.Float64:
		return 64, sampleFloat, nil
	}
	return 0, 0, fmt.Errorf("unsupported data type %v", dt)
}

// compressStrip interleaves bands per pixel and deflates the whole image.
func compressStrip(r *domain.Raster) ([]byte, error) {
	meta := r.Meta
	size := meta.DataType.Size()
	raw := make([]byte, meta.Cells()*size)
	le := binary.LittleEndian
	plane := meta.Width * meta.Height
	i := 0
	for px := 0; px < plane; px++ {
		for b := 0; b < meta.Bands; b++ {
			v := r.Data[b*plane+px]
			dst := raw[i*size:]
			switch meta.DataType {
			case domain.Uint8:
				dst[0] = uint8(clamp(v, 0, math.MaxUint8))
			case domain.Int16:
				le.PutUint16(dst, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
			case domain.Uint16:
				le.PutUint16(dst, uint16(clamp(v, 0, math.MaxUint16)))
			case domain.Int32:
				le.PutUint32(dst, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
			case domain.Uint32:
				le.PutUint32(dst, uint32(clamp(v, 0, math.MaxUint32)))
			case domain.Float32:
				le.PutUint32(dst, math.Float32bits(float32(v)))
			case domain.Float64:
				le.PutUint64(dst, math.Float64bits(v))
			}
			i++
		}
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func geoKeyDirectory(epsg int) []uint16 {
	keys := [][4]uint16{{keyGTRasterType, 0, 1, rasterPixelIsArea}}
	if epsg > 0 {
		if isGeographic(epsg) {
			keys = append(keys,
				[4]uint16{keyGTModelType, 0, 1, modelTypeGeographic},
				[4]uint16{keyGeographicType, 0, 1, uint16(epsg)})
		} else {
			keys = append(keys,
				[4]uint16{keyGTModelType, 0, 1, modelTypeProjected},
				[4]uint16{keyProjectedCSType, 0, 1, uint16(epsg)})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i][0] < keys[j][0] })

	out := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, k[:]...)
	}
	return out
}

// isGeographic covers the EPSG 4000-4999 block of geographic 2D CRSs, which
// includes WGS 84 (4326).
func isGeographic(epsg int) bool { return epsg >= 4000 && epsg < 5000 }

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func shortField(tag uint16, vals ...uint16) field {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return field{tag: tag, typ: typeShort, count: uint32(len(vals)), data: data}
}

func longField(tag uint16, v uint32) field {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return field{tag: tag, typ: typeLong, count: 1, data: data}
}

func doubleField(tag uint16, vals ...float64) field {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return field{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: data}
}
