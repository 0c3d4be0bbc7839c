package landcover

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"golang.org/x/image/tiff/lzw"
)

// tiffImage holds the tags needed to decode an image and its
// georeferencing.
type tiffImage struct {
	SubfileType               uint32   `tiff:"field,tag=254"`
	ImageWidth                uint64   `tiff:"field,tag=256"`
	ImageLength               uint64   `tiff:"field,tag=257"`
	BitsPerSample             []uint16 `tiff:"field,tag=258"`
	Compression               uint16   `tiff:"field,tag=259"`
	PhotometricInterpretation uint16   `tiff:"field,tag=262"`
	StripOffsets              []uint64 `tiff:"field,tag=273"`
	SamplesPerPixel           uint16   `tiff:"field,tag=277"`
	RowsPerStrip              uint64   `tiff:"field,tag=278"`
	StripByteCounts           []uint64 `tiff:"field,tag=279"`
	PlanarConfiguration       uint16   `tiff:"field,tag=284"`
	Predictor                 uint16   `tiff:"field,tag=317"`
	TileWidth                 uint64   `tiff:"field,tag=322"`
	TileLength                uint64   `tiff:"field,tag=323"`
	TileOffsets               []uint64 `tiff:"field,tag=324"`
	TileByteCounts            []uint64 `tiff:"field,tag=325"`
	SampleFormat              []uint16 `tiff:"field,tag=339"`

	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoAsciiParamsTag      string    `tiff:"field,tag=34737"`
	GDALMetaData           string    `tiff:"field,tag=42112"`
	NoData                 string    `tiff:"field,tag=42113"`
}

// ReadGeoTIFF decodes the full resolution image of a GeoTIFF into a tile
// with one band per sample. Band names are taken from the GDAL band
// descriptions when present, B1..Bn otherwise. Uncompressed, LZW and
// Deflate encodings are supported, with or without horizontal predictor.
func ReadGeoTIFF(r tiff.ReadAtReadSeeker, id string) (*Tile, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tiff.parse %s: %w", id, err)
	}
	order := tif.Order()
	var enc binary.ByteOrder
	switch order {
	case "II":
		enc = binary.LittleEndian
	case "MM":
		enc = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: unknown byte order %q", id, order)
	}
	var img *tiffImage
	for i, tifd := range tif.IFDs() {
		cur := &tiffImage{}
		if err := tiff.UnmarshalIFD(tifd, cur); err != nil {
			return nil, fmt.Errorf("unmarshal %s ifd %d: %w", id, i, err)
		}
		if cur.SubfileType&subfileTypeReducedImage == 0 && cur.SubfileType&4 == 0 {
			img = cur
			break
		}
	}
	if img == nil {
		return nil, fmt.Errorf("%s: no full resolution image", id)
	}
	d, err := newDecoder(img, enc, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	grid := Grid{Width: int(img.ImageWidth), Height: int(img.ImageLength)}
	if grid.GeoTransform, err = img.geoTransform(); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	grid.Projection = img.projection()

	nodata := math.NaN()
	if s := strings.TrimSpace(strings.TrimRight(img.NoData, "\x00")); s != "" {
		if nodata, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("%s: invalid nodata %q", id, img.NoData)
		}
	}
	names := img.bandNames()
	t := &Tile{ID: id, Grid: grid}
	for s := 0; s < d.spp; s++ {
		t.Bands = append(t.Bands, &Band{Name: names[s], NoData: nodata, Data: make([]float64, grid.Size())})
	}
	if err := d.decode(t); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return t, nil
}

type decoder struct {
	img          *tiffImage
	enc          binary.ByteOrder
	r            io.ReaderAt
	spp          int
	bytesPerSmp  int
	separate     bool
	blockW       int
	blockH       int
	ntx, nty     int
	offsets      []uint64
	byteCounts   []uint64
	sampleFormat uint16
}

func newDecoder(img *tiffImage, enc binary.ByteOrder, r io.ReaderAt) (*decoder, error) {
	d := &decoder{img: img, enc: enc, r: r, spp: int(img.SamplesPerPixel)}
	if d.spp == 0 {
		d.spp = 1
	}
	if len(img.BitsPerSample) == 0 {
		return nil, fmt.Errorf("missing bits per sample")
	}
	bits := img.BitsPerSample[0]
	for _, b := range img.BitsPerSample {
		if b != bits {
			return nil, fmt.Errorf("mixed bits per sample %v", img.BitsPerSample)
		}
	}
	d.sampleFormat = sampleFormatUInt
	if len(img.SampleFormat) > 0 {
		d.sampleFormat = img.SampleFormat[0]
	}
	switch {
	case bits == 8 || bits == 16 || (bits == 32 && d.sampleFormat != sampleFormatIEEEFP):
	case (bits == 32 || bits == 64) && d.sampleFormat == sampleFormatIEEEFP:
	default:
		return nil, fmt.Errorf("unsupported %d bit samples of format %d", bits, d.sampleFormat)
	}
	d.bytesPerSmp = int(bits / 8)
	switch img.Compression {
	case 0, compressionNone, compressionLZW, compressionDeflate, compressionAdobe:
	default:
		return nil, fmt.Errorf("unsupported compression %d", img.Compression)
	}
	if img.Predictor > 2 {
		return nil, fmt.Errorf("unsupported predictor %d", img.Predictor)
	}
	d.separate = img.PlanarConfiguration == planarConfigurationSeparate && d.spp > 1

	width, height := int(img.ImageWidth), int(img.ImageLength)
	if img.TileWidth > 0 && img.TileLength > 0 {
		d.blockW, d.blockH = int(img.TileWidth), int(img.TileLength)
		d.offsets, d.byteCounts = img.TileOffsets, img.TileByteCounts
	} else {
		d.blockW, d.blockH = width, int(img.RowsPerStrip)
		if d.blockH == 0 || d.blockH > height {
			d.blockH = height
		}
		d.offsets, d.byteCounts = img.StripOffsets, img.StripByteCounts
	}
	if d.blockW == 0 || d.blockH == 0 {
		return nil, fmt.Errorf("empty image")
	}
	d.ntx = (width + d.blockW - 1) / d.blockW
	d.nty = (height + d.blockH - 1) / d.blockH
	nblocks := d.ntx * d.nty
	if d.separate {
		nblocks *= d.spp
	}
	if len(d.offsets) != nblocks || len(d.byteCounts) != nblocks {
		return nil, fmt.Errorf("expecting %d blocks, got %d offsets and %d byte counts",
			nblocks, len(d.offsets), len(d.byteCounts))
	}
	return d, nil
}

func (d *decoder) decode(t *Tile) error {
	planes, samples := 1, d.spp
	if d.separate {
		planes, samples = d.spp, 1
	}
	for p := 0; p < planes; p++ {
		for by := 0; by < d.nty; by++ {
			for bx := 0; bx < d.ntx; bx++ {
				idx := (p*d.nty+by)*d.ntx + bx
				raw, err := d.block(idx)
				if err != nil {
					return fmt.Errorf("block %d: %w", idx, err)
				}
				rowSize := d.blockW * samples * d.bytesPerSmp
				rows := len(raw) / rowSize
				if d.img.Predictor == 2 {
					d.undoPredictor(raw[:rows*rowSize], rowSize, samples)
				}
				for y := 0; y < rows && by*d.blockH+y < t.Height; y++ {
					gy := by*d.blockH + y
					for x := 0; x < d.blockW && bx*d.blockW+x < t.Width; x++ {
						gx := bx*d.blockW + x
						for s := 0; s < samples; s++ {
							off := ((y*d.blockW+x)*samples + s) * d.bytesPerSmp
							t.Bands[p+s].Data[gy*t.Width+gx] = d.sample(raw[off:])
						}
					}
				}
			}
		}
	}
	return nil
}

func (d *decoder) block(idx int) ([]byte, error) {
	buf := make([]byte, d.byteCounts[idx])
	if _, err := d.r.ReadAt(buf, int64(d.offsets[idx])); err != nil && err != io.EOF {
		return nil, fmt.Errorf("readat len=%d from %d: %w", len(buf), d.offsets[idx], err)
	}
	switch d.img.Compression {
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(buf), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(rc)
	case compressionDeflate, compressionAdobe:
		rc, err := zlib.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return buf, nil
}

// undoPredictor reverses horizontal differencing, row by row.
func (d *decoder) undoPredictor(raw []byte, rowSize, samples int) {
	stride := samples * d.bytesPerSmp
	for row := 0; row+rowSize <= len(raw); row += rowSize {
		line := raw[row : row+rowSize]
		for i := stride; i+d.bytesPerSmp <= len(line); i += d.bytesPerSmp {
			prev := line[i-stride:]
			cur := line[i:]
			switch d.bytesPerSmp {
			case 1:
				cur[0] += prev[0]
			case 2:
				d.enc.PutUint16(cur, d.enc.Uint16(cur)+d.enc.Uint16(prev))
			case 4:
				d.enc.PutUint32(cur, d.enc.Uint32(cur)+d.enc.Uint32(prev))
			case 8:
				d.enc.PutUint64(cur, d.enc.Uint64(cur)+d.enc.Uint64(prev))
			}
		}
	}
}

func (d *decoder) sample(b []byte) float64 {
	signed := d.sampleFormat == sampleFormatInt
	switch d.bytesPerSmp {
	case 1:
		if signed {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		if signed {
			return float64(int16(d.enc.Uint16(b)))
		}
		return float64(d.enc.Uint16(b))
	case 4:
		v := d.enc.Uint32(b)
		switch {
		case d.sampleFormat == sampleFormatIEEEFP:
			return float64(math.Float32frombits(v))
		case signed:
			return float64(int32(v))
		}
		return float64(v)
	}
	return math.Float64frombits(d.enc.Uint64(b))
}

func (img *tiffImage) geoTransform() ([6]float64, error) {
	if m := img.ModelTransformationTag; len(m) == 16 {
		return [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}
	if len(img.ModelPixelScaleTag) >= 2 && len(img.ModelTiePointTag) >= 6 {
		sx, sy := img.ModelPixelScaleTag[0], img.ModelPixelScaleTag[1]
		tp := img.ModelTiePointTag
		return [6]float64{tp[3] - tp[0]*sx, sx, 0, tp[4] + tp[1]*sy, 0, -sy}, nil
	}
	if len(img.ModelPixelScaleTag)+len(img.ModelTiePointTag)+len(img.ModelTransformationTag) > 0 {
		return [6]float64{}, fmt.Errorf("incomplete georeferencing")
	}
	return [6]float64{0, 1, 0, 0, 0, 1}, nil
}

// projection returns "EPSG:n" when the geokeys name a code, the citation of
// a user defined model otherwise.
func (img *tiffImage) projection() string {
	dir := img.GeoKeyDirectoryTag
	if len(dir) < 4 {
		return ""
	}
	citation := ""
	for k := 0; k < int(dir[3]) && 4+4*k+3 < len(dir); k++ {
		key, loc, count, value := dir[4+4*k], dir[4+4*k+1], dir[4+4*k+2], dir[4+4*k+3]
		switch {
		case (key == geographicTypeGeoKey || key == projectedCSTypeGeoKey) && loc == 0 && value != modelTypeUserDefined:
			return fmt.Sprintf("EPSG:%d", value)
		case key == gtCitationGeoKey && loc == geoAsciiParamsTagLocator:
			start, end := int(value), int(value)+int(count)
			if end <= len(img.GeoAsciiParamsTag) {
				citation = strings.TrimRight(img.GeoAsciiParamsTag[start:end], "|\x00")
			}
		}
	}
	return citation
}

func (img *tiffImage) bandNames() []string {
	spp := int(img.SamplesPerPixel)
	if spp == 0 {
		spp = 1
	}
	names := make([]string, spp)
	for i := range names {
		names[i] = fmt.Sprintf("B%d", i+1)
	}
	if img.GDALMetaData == "" {
		return names
	}
	md := gdalMetadata{}
	if err := xml.Unmarshal([]byte(strings.TrimRight(img.GDALMetaData, "\x00")), &md); err != nil {
		return names
	}
	for _, it := range md.Items {
		if it.Name == "DESCRIPTION" && it.Role == "description" && it.Sample != nil &&
			*it.Sample >= 0 && *it.Sample < spp && it.Value != "" {
			names[*it.Sample] = it.Value
		}
	}
	return names
}

// ReadCompositeGeoTIFF reads a composite written by WriteCompositeGeoTIFF.
func ReadCompositeGeoTIFF(r tiff.ReadAtReadSeeker, id string) (*CompositeRaster, error) {
	t, err := ReadGeoTIFF(r, id)
	if err != nil {
		return nil, err
	}
	return &CompositeRaster{Tile: t}, nil
}

// ReadClassifiedGeoTIFF reads the first band of a GeoTIFF as class labels,
// ClassNoData and nodata pixels becoming NoClass.
func ReadClassifiedGeoTIFF(r tiff.ReadAtReadSeeker, id string) (*ClassifiedRaster, error) {
	t, err := ReadGeoTIFF(r, id)
	if err != nil {
		return nil, err
	}
	c := NewClassifiedRaster(t.Grid)
	b := t.Bands[0]
	for i, v := range b.Data {
		if b.IsNoData(i) || v == ClassNoData {
			continue
		}
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%s: non integer class value %g", id, v)
		}
		c.Labels[i] = int(v)
	}
	return c, nil
}
