package geotiff

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chirpsLike() *domain.Raster {
	nd := -9999.0
	return &domain.Raster{
		Meta: domain.Metadata{
			Width: 3, Height: 2, Bands: 1, DataType: domain.Float32,
			Transform: domain.GeoTransform{-180, 0.25, 0, 50, 0, -0.25},
			EPSG:      4326,
			NoData:    &nd,
		},
		Data: []float64{0, 1.5, -9999, 12.25, 0, 0.5},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := chirpsLike()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))

	out, err := Decode(&buf)
	require.NoError(t, err)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_DataTypes(t *testing.T) {
	tests := []struct {
		dt   domain.DataType
		in   []float64
		want []float64
	}{
		{domain.Uint8, []float64{0, 255, 300, 2.6}, []float64{0, 255, 255, 3}},
		{domain.Int16, []float64{-5, 31, -40000, 7}, []float64{-5, 31, math.MinInt16, 7}},
		{domain.Uint16, []float64{0, 65535, 1, 2}, []float64{0, 65535, 1, 2}},
		{domain.Int32, []float64{-1, 1 << 20, 0, 3}, []float64{-1, 1 << 20, 0, 3}},
		{domain.Uint32, []float64{4, 3, 2, 1}, []float64{4, 3, 2, 1}},
		{domain.Float64, []float64{0.1, -0.2, 1e-9, 3}, []float64{0.1, -0.2, 1e-9, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			in := &domain.Raster{
				Meta: domain.Metadata{Width: 2, Height: 2, Bands: 1, DataType: tt.dt,
					Transform: domain.GeoTransform{500000, 30, 0, 4000000, 0, -30}, EPSG: 32633},
				Data: tt.in,
			}
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, in))
			out, err := Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Data)
			assert.Equal(t, tt.dt, out.Meta.DataType)
			assert.Equal(t, 32633, out.Meta.EPSG)
			assert.Nil(t, out.Meta.NoData)
		})
	}
}

func TestEncodeDecode_MultiBandAndRotation(t *testing.T) {
	in := &domain.Raster{
		Meta: domain.Metadata{Width: 2, Height: 1, Bands: 2, DataType: domain.Float64,
			Transform: domain.GeoTransform{10, 1, 0.5, 20, 0.25, -1}, EPSG: 4326},
		Data: []float64{1, 2, 3, 4},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	out, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, in.Meta.Transform, out.Meta.Transform)
}

func TestWriteFile_AtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tif")

	require.NoError(t, WriteFile(path, chirpsLike()))
	r, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, chirpsLike().Data, r.Data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestWriteFile_InvalidRasterLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tif")
	bad := chirpsLike()
	bad.Data = bad.Data[:2]

	err := WriteFile(path, bad)
	require.ErrorIs(t, err, domain.ErrIO)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.tif"))
	require.ErrorIs(t, err, domain.ErrIO)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a tiff")))
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecode_TruncatedStrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, chirpsLike()))
	data := buf.Bytes()
	// Corrupt the deflate stream right after the header.
	for i := 10; i < 20; i++ {
		data[i] = 0xff
	}
	_, err := Decode(bytes.NewReader(data))
	require.ErrorIs(t, err, domain.ErrDecode)
}

// --- hand-built tiffs for layouts Encode never produces ---

type rawField struct {
	tag, typ uint16
	vals     []uint32
	doubles  []float64
}

func buildTIFF(order binary.ByteOrder, fields []rawField, strips [][]byte) []byte {
	var out bytes.Buffer
	if order == binary.BigEndian {
		out.WriteString("MM")
	} else {
		out.WriteString("II")
	}
	_ = binary.Write(&out, order, uint16(42))
	_ = binary.Write(&out, order, uint32(0)) // patched below

	var offsets, counts []uint32
	for _, s := range strips {
		offsets = append(offsets, uint32(out.Len()))
		counts = append(counts, uint32(len(s)))
		out.Write(s)
		if out.Len()%2 == 1 {
			out.WriteByte(0)
		}
	}
	fields = append(fields,
		rawField{tag: tagStripOffsets, typ: typeLong, vals: offsets},
		rawField{tag: tagStripByteCounts, typ: typeLong, vals: counts},
	)
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	encode := func(f rawField) []byte {
		var b bytes.Buffer
		for _, v := range f.vals {
			if f.typ == typeShort {
				_ = binary.Write(&b, order, uint16(v))
			} else {
				_ = binary.Write(&b, order, v)
			}
		}
		for _, d := range f.doubles {
			_ = binary.Write(&b, order, d)
		}
		return b.Bytes()
	}

	ifdOff := out.Len()
	extraOff := ifdOff + 2 + 12*len(fields) + 4
	var ifd, extra bytes.Buffer
	_ = binary.Write(&ifd, order, uint16(len(fields)))
	for _, f := range fields {
		data := encode(f)
		count := len(f.vals) + len(f.doubles)
		_ = binary.Write(&ifd, order, f.tag)
		_ = binary.Write(&ifd, order, f.typ)
		_ = binary.Write(&ifd, order, uint32(count))
		if len(data) <= 4 {
			var inline [4]byte
			copy(inline[:], data)
			ifd.Write(inline[:])
			continue
		}
		_ = binary.Write(&ifd, order, uint32(extraOff+extra.Len()))
		extra.Write(data)
	}
	_ = binary.Write(&ifd, order, uint32(0))
	out.Write(ifd.Bytes())
	out.Write(extra.Bytes())

	b := out.Bytes()
	order.PutUint32(b[4:8], uint32(ifdOff))
	return b
}

func baseFields(width, height, bits, format, compression, rowsPerStrip uint32) []rawField {
	return []rawField{
		{tag: tagImageWidth, typ: typeLong, vals: []uint32{width}},
		{tag: tagImageLength, typ: typeLong, vals: []uint32{height}},
		{tag: tagBitsPerSample, typ: typeShort, vals: []uint32{bits}},
		{tag: tagCompression, typ: typeShort, vals: []uint32{compression}},
		{tag: tagRowsPerStrip, typ: typeLong, vals: []uint32{rowsPerStrip}},
		{tag: tagSampleFormat, typ: typeShort, vals: []uint32{format}},
		{tag: tagModelPixelScale, typ: typeDouble, doubles: []float64{0.05, 0.05, 0}},
		{tag: tagModelTiepoint, typ: typeDouble, doubles: []float64{0, 0, 0, -20, 10, 0}},
		{tag: tagGeoKeyDirectory, typ: typeShort, vals: []uint32{1, 1, 0, 2, keyGTModelType, 0, 1, 2, keyGeographicType, 0, 1, 4326}},
	}
}

func TestDecode_BigEndianMultiStrip(t *testing.T) {
	// 2x3 int16, one row per strip.
	var strips [][]byte
	for _, row := range [][]int16{{1, -2}, {3, -4}, {5, -6}} {
		var b bytes.Buffer
		_ = binary.Write(&b, binary.BigEndian, row)
		strips = append(strips, b.Bytes())
	}
	data := buildTIFF(binary.BigEndian, baseFields(2, 3, 16, sampleInt, compressionNone, 1), strips)

	r, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 3, -4, 5, -6}, r.Data)
	assert.Equal(t, domain.GeoTransform{-20, 0.05, 0, 10, 0, -0.05}, r.Meta.Transform)
	assert.Equal(t, 4326, r.Meta.EPSG)
}

func TestDecode_HorizontalPredictor(t *testing.T) {
	// Row values 10, 12, 15, 15 stored as horizontal differences.
	var raw bytes.Buffer
	_ = binary.Write(&raw, binary.LittleEndian, []uint16{10, 2, 3, 0})

	fields := append(baseFields(4, 1, 16, sampleUint, compressionNone, 1),
		rawField{tag: tagPredictor, typ: typeShort, vals: []uint32{2}})
	data := buildTIFF(binary.LittleEndian, fields, [][]byte{raw.Bytes()})

	r, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12, 15, 15}, r.Data)
}

func TestDecode_UnsupportedCompression(t *testing.T) {
	data := buildTIFF(binary.LittleEndian, baseFields(1, 1, 8, sampleUint, 7, 1), [][]byte{{0}})

	_, err := Decode(bytes.NewReader(data))
	require.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorContains(t, err, "compression 7")
}

func TestDecode_PackBits(t *testing.T) {
	// Literal run of 2 bytes then 3 repeats of 7.
	packed := []byte{1, 4, 5, 0xfe, 7}
	data := buildTIFF(binary.LittleEndian, baseFields(5, 1, 8, sampleUint, compressionPackBits, 1), [][]byte{packed})

	r, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 7, 7, 7}, r.Data)
}

func TestDecode_PixelIsPointShiftsOrigin(t *testing.T) {
	fields := baseFields(1, 1, 8, sampleUint, compressionNone, 1)
	fields[len(fields)-1] = rawField{tag: tagGeoKeyDirectory, typ: typeShort,
		vals: []uint32{1, 1, 0, 1, keyGTRasterType, 0, 1, rasterPixelIsPoint}}
	data := buildTIFF(binary.LittleEndian, fields, [][]byte{{9}})

	r, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, -20.025, r.Meta.Transform[0], 1e-12)
	assert.InDelta(t, 10.025, r.Meta.Transform[3], 1e-12)
}

func TestDecode_MissingGeoreferencing(t *testing.T) {
	fields := []rawField{
		{tag: tagImageWidth, typ: typeLong, vals: []uint32{1}},
		{tag: tagImageLength, typ: typeLong, vals: []uint32{1}},
		{tag: tagBitsPerSample, typ: typeShort, vals: []uint32{8}},
	}
	data := buildTIFF(binary.LittleEndian, fields, [][]byte{{1}})

	_, err := Decode(bytes.NewReader(data))
	require.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorContains(t, err, "georeferencing")
}

func TestDecode_ImplausibleDimensions(t *testing.T) {
	tests := []struct {
		name   string
		fields []rawField
		strips [][]byte
		want   string
	}{
		{
			name:   "too many samples",
			fields: baseFields(200000, 200000, 32, sampleFloat, compressionNone, 200000),
			strips: [][]byte{make([]byte, 16)},
			want:   "exceeds the limit",
		},
		{
			name:   "dimension out of range",
			fields: baseFields(1<<21, 1, 8, sampleUint, compressionNone, 1),
			strips: [][]byte{make([]byte, 16)},
			want:   "implausible dimensions",
		},
		{
			name:   "uncompressed strips too small",
			fields: baseFields(4000, 4000, 32, sampleFloat, compressionNone, 4000),
			strips: [][]byte{make([]byte, 16)},
			want:   "too few",
		},
		{
			name:   "deflate strips too small for any ratio",
			fields: baseFields(4000, 4000, 32, sampleFloat, compressionDeflate, 4000),
			strips: [][]byte{make([]byte, 16)},
			want:   "too few",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTIFF(binary.LittleEndian, tt.fields, tt.strips)

			_, err := Decode(bytes.NewReader(data))
			require.ErrorIs(t, err, domain.ErrDecode)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDecode_ManyBandsRejected(t *testing.T) {
	fields := append(baseFields(1, 1, 8, sampleUint, compressionNone, 1),
		rawField{tag: tagSamplesPerPixel, typ: typeShort, vals: []uint32{5000}})
	data := buildTIFF(binary.LittleEndian, fields, [][]byte{{1}})

	_, err := Decode(bytes.NewReader(data))
	require.ErrorIs(t, err, domain.ErrDecode)
	assert.ErrorContains(t, err, "implausible dimensions")
}
