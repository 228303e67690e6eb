package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// ReadFile decodes the GeoTIFF at path. A missing or unreadable file is an
// ErrIO; a file that is not a supported GeoTIFF is an ErrDecode.
func ReadFile(path string) (*domain.Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("read raster", err)
	}
	r, err := decodeBytes(data)
	if err != nil {
		return nil, domain.DecodeError("read raster", fmt.Errorf("%s: %w", path, err))
	}
	return r, nil
}

// Decode reads a whole GeoTIFF from r.
func Decode(r io.Reader) (*domain.Raster, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.IOError("decode raster", err)
	}
	out, err := decodeBytes(data)
	if err != nil {
		return nil, domain.DecodeError("decode raster", err)
	}
	return out, nil
}

type entry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type decoder struct {
	buf     []byte
	order   binary.ByteOrder
	entries map[uint16]entry
}

func decodeBytes(buf []byte) (*domain.Raster, error) {
	if len(buf) < 8 {
		return nil, errors.New("file too short for a tiff header")
	}
	d := &decoder{buf: buf, entries: make(map[uint16]entry)}
	switch string(buf[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, errors.New("not a tiff file")
	}
	switch magic := d.order.Uint16(buf[2:4]); magic {
	case 42:
	case 43:
		return nil, errors.New("bigtiff is not supported")
	default:
		return nil, fmt.Errorf("bad tiff magic %d", magic)
	}
	if err := d.readIFD(d.order.Uint32(buf[4:8])); err != nil {
		return nil, err
	}
	return d.raster()
}

func (d *decoder) readIFD(off uint32) error {
	if int(off)+2 > len(d.buf) {
		return errors.New("ifd offset out of range")
	}
	n := int(d.order.Uint16(d.buf[off:]))
	p := int(off) + 2
	if p+12*n > len(d.buf) {
		return errors.New("ifd truncated")
	}
	for i := 0; i < n; i++ {
		e := d.buf[p+12*i : p+12*(i+1)]
		tag := d.order.Uint16(e[0:2])
		typ := d.order.Uint16(e[2:4])
		count := d.order.Uint32(e[4:8])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := int(count) * size
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := int(d.order.Uint32(e[8:12]))
			if vo < 0 || vo+total > len(d.buf) {
				return fmt.Errorf("tag %d value out of range", tag)
			}
			raw = d.buf[vo : vo+total]
		}
		d.entries[tag] = entry{typ: typ, count: count, raw: raw}
	}
	return nil
}

func (d *decoder) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// uints returns an integer-typed field as uint64 values.
func (d *decoder) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(e.raw[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(e.raw[2*i:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(e.raw[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", tag, e.typ)
		}
	}
	return out, nil
}

func (d *decoder) uintOr(tag uint16, def uint64) (uint64, error) {
	if !d.has(tag) {
		return def, nil
	}
	v, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// floats returns a numeric field as float64 values.
func (d *decoder) floats(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	if e.typ == typeDouble {
		out := make([]float64, e.count)
		for i := range out {
			out[i] = math.Float64frombits(d.order.Uint64(e.raw[8*i:]))
		}
		return out, nil
	}
	if e.typ == typeFloat {
		out := make([]float64, e.count)
		for i := range out {
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.raw[4*i:])))
		}
		return out, nil
	}
	u, err := d.uints(tag)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = float64(v)
	}
	return out, nil
}

func (d *decoder) raster() (*domain.Raster, error) {
	if d.has(tagTileWidth) {
		return nil, errors.New("tiled tiff layout is not supported")
	}
	width, err := d.uintOr(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uintOr(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, errors.New("missing image dimensions")
	}
	spp, err := d.uintOr(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if width > maxDimension || height > maxDimension || spp == 0 || spp > maxBands {
		return nil, fmt.Errorf("implausible dimensions %dx%dx%d", spp, height, width)
	}
	if cells := width * height * spp; cells > maxSamples {
		return nil, fmt.Errorf("%d samples exceeds the limit of %d", cells, maxSamples)
	}
	bits, err := d.uintOr(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	format, err := d.uintOr(tagSampleFormat, sampleUint)
	if err != nil {
		return nil, err
	}
	dt, err := dataType(format, bits)
	if err != nil {
		return nil, err
	}

	meta := domain.Metadata{
		Width:    int(width),
		Height:   int(height),
		Bands:    int(spp),
		DataType: dt,
	}
	if meta.Transform, err = d.transform(); err != nil {
		return nil, err
	}
	if meta.EPSG, err = d.epsg(); err != nil {
		return nil, err
	}
	if meta.NoData, err = d.nodata(); err != nil {
		return nil, err
	}

	samples, err := d.samples(meta)
	if err != nil {
		return nil, err
	}
	return &domain.Raster{Meta: meta, Data: samples}, nil
}

func dataType(format, bits uint64) (domain.DataType, error) {
	switch {
	case format == sampleUint && bits == 8:
		return domain.Uint8, nil
	case format == sampleInt && bits == 16:
		return domain.Int16, nil
	case format == sampleUint && bits == 16:
		return domain.Uint16, nil
	case format == sampleInt && bits == 32:
		return domain.Int32, nil
	case format == sampleUint && bits == 32:
		return domain.Uint32, nil
	case format == sampleFloat && bits == 32:
		return domain.Float32, nil
	case format == sampleFloat && bits == 64:
		return domain.Float64, nil
	}
	return 0, fmt.Errorf("unsupported sample format %d with %d bits", format, bits)
}

func (d *decoder) transform() (domain.GeoTransform, error) {
	if d.has(tagModelTransformation) {
		m, err := d.floats(tagModelTransformation)
		if err != nil {
			return domain.GeoTransform{}, err
		}
		if len(m) < 16 {
			return domain.GeoTransform{}, errors.New("short model transformation")
		}
		return domain.GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}
	if !d.has(tagModelPixelScale) || !d.has(tagModelTiepoint) {
		return domain.GeoTransform{}, errors.New("missing georeferencing tags")
	}
	scale, err := d.floats(tagModelPixelScale)
	if err != nil {
		return domain.GeoTransform{}, err
	}
	tie, err := d.floats(tagModelTiepoint)
	if err != nil {
		return domain.GeoTransform{}, err
	}
	if len(scale) < 2 || len(tie) < 6 {
		return domain.GeoTransform{}, errors.New("short tiepoint or pixel scale")
	}
	sx, sy := scale[0], scale[1]
	gt := domain.GeoTransform{tie[3] - tie[0]*sx, sx, 0, tie[4] + tie[1]*sy, 0, -sy}

	keys, err := d.geoKeys()
	if err != nil {
		return domain.GeoTransform{}, err
	}
	if keys[keyGTRasterType] == rasterPixelIsPoint {
		gt[0] -= sx / 2
		gt[3] += sy / 2
	}
	return gt, nil
}

func (d *decoder) geoKeys() (map[uint16]uint16, error) {
	out := make(map[uint16]uint16)
	if !d.has(tagGeoKeyDirectory) {
		return out, nil
	}
	dir, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return nil, err
	}
	if len(dir) < 4 {
		return nil, errors.New("short geokey directory")
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		k := dir[4+4*i:]
		// Only inline SHORT values are needed here.
		if k[1] == 0 {
			out[uint16(k[0])] = uint16(k[3])
		}
	}
	return out, nil
}

func (d *decoder) epsg() (int, error) {
	keys, err := d.geoKeys()
	if err != nil {
		return 0, err
	}
	code := keys[keyGeographicType]
	if keys[keyGTModelType] == modelTypeProjected {
		code = keys[keyProjectedCSType]
	}
	if code == userDefined {
		return 0, nil
	}
	return int(code), nil
}

func (d *decoder) nodata() (*float64, error) {
	e, ok := d.entries[tagGDALNoData]
	if !ok {
		return nil, nil
	}
	s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nodata %q: %w", s, err)
	}
	return &v, nil
}

func (d *decoder) samples(meta domain.Metadata) ([]float64, error) {
	compression, err := d.uintOr(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}
	predictor, err := d.uintOr(tagPredictor, 1)
	if err != nil {
		return nil, err
	}
	if predictor == 3 || (predictor == 2 && (meta.DataType == domain.Float32 || meta.DataType == domain.Float64)) {
		return nil, errors.New("floating point predictor is not supported")
	}
	if predictor != 1 && predictor != 2 {
		return nil, fmt.Errorf("unknown predictor %d", predictor)
	}
	planar, err := d.uintOr(tagPlanarConfiguration, 1)
	if err != nil {
		return nil, err
	}
	rps, err := d.uintOr(tagRowsPerStrip, uint64(meta.Height))
	if err != nil {
		return nil, err
	}
	if rps == 0 || rps > uint64(meta.Height) {
		rps = uint64(meta.Height)
	}
	offsets, err := d.uints(tagStripOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := d.uints(tagStripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(counts) {
		return nil, errors.New("strip offsets and byte counts differ in length")
	}

	stripsPerPlane := (meta.Height + int(rps) - 1) / int(rps)
	planes, samplesPerRow := 1, meta.Width*meta.Bands
	if planar == 2 && meta.Bands > 1 {
		planes, samplesPerRow = meta.Bands, meta.Width
	}
	if len(offsets) < stripsPerPlane*planes {
		return nil, fmt.Errorf("expected %d strips, found %d", stripsPerPlane*planes, len(offsets))
	}

	size := meta.DataType.Size()
	if err := checkStripBudget(compression, counts, meta.Cells()*size); err != nil {
		return nil, err
	}
	out := make([]float64, meta.Cells())
	row := make([]uint64, samplesPerRow)
	for plane := 0; plane < planes; plane++ {
		for s := 0; s < stripsPerPlane; s++ {
			i := plane*stripsPerPlane + s
			start, n := offsets[i], counts[i]
			if start+n > uint64(len(d.buf)) {
				return nil, fmt.Errorf("strip %d out of range", i)
			}
			firstRow := s * int(rps)
			rows := min(int(rps), meta.Height-firstRow)
			data, err := decompress(compression, d.buf[start:start+n], rows*samplesPerRow*size)
			if err != nil {
				return nil, fmt.Errorf("strip %d: %w", i, err)
			}
			if len(data) < rows*samplesPerRow*size {
				return nil, fmt.Errorf("strip %d: %d bytes, need %d", i, len(data), rows*samplesPerRow*size)
			}
			for r := 0; r < rows; r++ {
				readRow(d.order, meta.DataType, data[r*samplesPerRow*size:], row)
				if predictor == 2 {
					undoHorizontalDiff(row, size, planes == 1, meta.Bands)
				}
				y := firstRow + r
				for k, raw := range row {
					band, col := plane, k
					if planes == 1 {
						band, col = k%meta.Bands, k/meta.Bands
					}
					out[(band*meta.Height+y)*meta.Width+col] = sampleValue(meta.DataType, raw)
				}
			}
		}
	}
	return out, nil
}

// Decoder limits. The largest CHIRPS grid (p05, global) holds 14.4 million
// samples, well inside maxSamples.
const (
	maxDimension = 1 << 20
	maxBands     = 1 << 10
	maxSamples   = 1 << 27
	// maxCompressionRatio bounds how far a strip can expand; deflate tops
	// out near 1032:1.
	maxCompressionRatio = 1100
)

// checkStripBudget rejects files whose strips are too small to hold want
// bytes of samples, before any sample memory is allocated.
func checkStripBudget(compression uint64, counts []uint64, want int) error {
	var have uint64
	for _, c := range counts {
		have += c
	}
	limit := have
	if compression != compressionNone {
		limit = have * maxCompressionRatio
	}
	if limit < uint64(want) {
		return fmt.Errorf("strips hold %d bytes, too few for %d bytes of samples", have, want)
	}
	return nil
}

// decompress expands one strip, reading at most want bytes of output.
func decompress(scheme uint64, data []byte, want int) ([]byte, error) {
	switch scheme {
	case compressionNone:
		return data, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, int64(want)))
	case compressionDeflate, compressionZlib:
		rc, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, int64(want)))
	case compressionPackBits:
		return unpackBits(data, want)
	default:
		return nil, fmt.Errorf("unsupported compression %d", scheme)
	}
}

func unpackBits(data []byte, want int) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data) && len(out) < want; {
		n := int(int8(data[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(data) {
				return nil, errors.New("packbits literal run truncated")
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(data) {
				return nil, errors.New("packbits repeat run truncated")
			}
			out = append(out, bytes.Repeat(data[i:i+1], 1-n)...)
			i++
		}
	}
	return out, nil
}

func readRow(order binary.ByteOrder, dt domain.DataType, data []byte, row []uint64) {
	size := dt.Size()
	for i := range row {
		b := data[i*size:]
		switch size {
		case 1:
			row[i] = uint64(b[0])
		case 2:
			row[i] = uint64(order.Uint16(b))
		case 4:
			row[i] = uint64(order.Uint32(b))
		case 8:
			row[i] = order.Uint64(b)
		}
	}
}

// undoHorizontalDiff reverses TIFF predictor 2 on one row of integer samples.
func undoHorizontalDiff(row []uint64, size int, chunky bool, bands int) {
	stride := 1
	if chunky {
		stride = bands
	}
	mask := uint64(1)<<(8*uint(size)) - 1
	for i := stride; i < len(row); i++ {
		row[i] = (row[i] + row[i-stride]) & mask
	}
}

func sampleValue(dt domain.DataType, raw uint64) float64 {
	switch dt {
	case domain.Uint8, domain.Uint16, domain.Uint32:
		return float64(raw)
	case domain.Int16:
		return float64(int16(uint16(raw)))
	case domain.Int32:
		return float64(int32(uint32(raw)))
	case domain.Float32:
		return float64(math.Float32frombits(uint32(raw)))
	case domain.Float64:
		return math.Float64frombits(raw)
	}
	return math.NaN()
}
