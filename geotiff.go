package landcover

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/tbonfort/gobs"
)

// ClassNoData is the value of unclassified pixels in classification
// GeoTIFFs.
const ClassNoData = 255

const (
	subfileTypeNone         = 0
	subfileTypeReducedImage = 1
)

const (
	compressionNone    = 1
	compressionLZW     = 5
	compressionDeflate = 8
	compressionAdobe   = 32946
)

const (
	photometricMinIsBlack = 1
	photometricPalette    = 3
)

const (
	planarConfigurationContig   = 1
	planarConfigurationSeparate = 2
)

const (
	sampleFormatUInt   = 1
	sampleFormatInt    = 2
	sampleFormatIEEEFP = 3
)

// ifd is one image of the output file: the full resolution image or one of
// its overviews, chained through overview.
type ifd struct {
	SubfileType               uint32
	ImageWidth                uint32
	ImageLength               uint32
	BitsPerSample             []uint16
	Compression               uint16
	PhotometricInterpretation uint16
	SamplesPerPixel           uint16
	PlanarConfiguration       uint16
	Colormap                  []uint16
	TileWidth                 uint16
	TileLength                uint16
	ExtraSamples              []uint16
	SampleFormat              []uint16

	ModelPixelScaleTag     []float64
	ModelTiePointTag       []float64
	ModelTransformationTag []float64
	GeoKeyDirectoryTag     []uint16
	GeoDoubleParamsTag     []float64
	GeoAsciiParamsTag      string
	GDALMetaData           string
	NoData                 string

	// tiles holds the encoded tiles, plane by plane, row-major
	tiles          [][]byte
	tileOffsets32  []uint32
	tileOffsets64  []uint64
	tileByteCounts []uint32

	overview *ifd

	ntags      uint64
	tagsSize   uint64
	strileSize uint64
}

type field struct {
	tag    uint16
	data   interface{}
	strile bool
}

// fields lists the tags to write, in ascending tag order.
func (ifd *ifd) fields() []field {
	f := []field{}
	add := func(tag uint16, data interface{}, set bool) {
		if set {
			f = append(f, field{tag: tag, data: data})
		}
	}
	add(254, ifd.SubfileType, ifd.SubfileType > 0)
	add(256, ifd.ImageWidth, true)
	add(257, ifd.ImageLength, true)
	add(258, ifd.BitsPerSample, len(ifd.BitsPerSample) > 0)
	add(259, ifd.Compression, ifd.Compression > 0)
	add(262, ifd.PhotometricInterpretation, true)
	add(277, ifd.SamplesPerPixel, ifd.SamplesPerPixel > 0)
	add(284, ifd.PlanarConfiguration, ifd.PlanarConfiguration > 0)
	add(320, ifd.Colormap, len(ifd.Colormap) > 0)
	add(322, ifd.TileWidth, true)
	add(323, ifd.TileLength, true)
	if ifd.tileOffsets64 != nil {
		f = append(f, field{tag: 324, data: ifd.tileOffsets64, strile: true})
	} else {
		f = append(f, field{tag: 324, data: ifd.tileOffsets32, strile: true})
	}
	f = append(f, field{tag: 325, data: ifd.tileByteCounts, strile: true})
	add(338, ifd.ExtraSamples, len(ifd.ExtraSamples) > 0)
	add(339, ifd.SampleFormat, len(ifd.SampleFormat) > 0)
	add(33550, ifd.ModelPixelScaleTag, len(ifd.ModelPixelScaleTag) > 0)
	add(33922, ifd.ModelTiePointTag, len(ifd.ModelTiePointTag) > 0)
	add(34264, ifd.ModelTransformationTag, len(ifd.ModelTransformationTag) > 0)
	add(34735, ifd.GeoKeyDirectoryTag, len(ifd.GeoKeyDirectoryTag) > 0)
	add(34736, ifd.GeoDoubleParamsTag, len(ifd.GeoDoubleParamsTag) > 0)
	add(34737, ifd.GeoAsciiParamsTag, ifd.GeoAsciiParamsTag != "")
	add(42112, ifd.GDALMetaData, ifd.GDALMetaData != "")
	add(42113, ifd.NoData, ifd.NoData != "")
	return f
}

func (ifd *ifd) structure(bigtiff bool) (tagCount, ifdSize, strileSize uint64) {
	size := uint64(16) //8 for field count + 8 for next ifd offset
	if !bigtiff {
		size = 6 // 2 for field count + 4 for next ifd offset
	}
	for _, f := range ifd.fields() {
		tagCount++
		fs := fieldSize(f.data, bigtiff)
		if f.strile {
			size += entrySize(bigtiff)
			strileSize += fs - entrySize(bigtiff)
		} else {
			size += fs
		}
	}
	return tagCount, size, strileSize
}

// AddOverview chains ovr as the next reduced resolution image. Overviews
// carry no georeferencing.
func (ifd *ifd) AddOverview(ovr *ifd) {
	ovr.SubfileType = subfileTypeReducedImage
	ovr.ModelPixelScaleTag = nil
	ovr.ModelTiePointTag = nil
	ovr.ModelTransformationTag = nil
	ovr.GeoAsciiParamsTag = ""
	ovr.GeoDoubleParamsTag = nil
	ovr.GeoKeyDirectoryTag = nil
	ovr.GDALMetaData = ""
	last := ifd
	for last.overview != nil {
		last = last.overview
	}
	last.overview = ovr
}

type geotiff struct {
	enc     binary.ByteOrder
	ifd     *ifd
	bigtiff bool
}

func (g *geotiff) writeHeader(w io.Writer) error {
	var buf []byte
	if g.bigtiff {
		buf = make([]byte, 16)
		g.enc.PutUint16(buf[2:], 43)
		g.enc.PutUint16(buf[4:], 8)
		g.enc.PutUint64(buf[8:], 16)
	} else {
		buf = make([]byte, 8)
		g.enc.PutUint16(buf[2:], 42)
		g.enc.PutUint32(buf[4:], 8)
	}
	if g.enc == binary.BigEndian {
		copy(buf, "MM")
	} else {
		copy(buf, "II")
	}
	_, err := w.Write(buf)
	return err
}

func (g *geotiff) headerSize() uint64 {
	if g.bigtiff {
		return 16
	}
	return 8
}

type tileRef struct {
	ifd *ifd
	idx int
}

// tileOrder returns the order tiles are laid out in the file: smallest
// overview first, so that readers of the full resolution image find
// everything else before it.
func (g *geotiff) tileOrder() []tileRef {
	levels := []*ifd{}
	for ifd := g.ifd; ifd != nil; ifd = ifd.overview {
		levels = append(levels, ifd)
	}
	refs := []tileRef{}
	for l := len(levels) - 1; l >= 0; l-- {
		for i := range levels[l].tiles {
			refs = append(refs, tileRef{ifd: levels[l], idx: i})
		}
	}
	return refs
}

func (g *geotiff) computeImageryOffsets() error {
	for ifd := g.ifd; ifd != nil; ifd = ifd.overview {
		if g.bigtiff {
			ifd.tileOffsets64 = make([]uint64, len(ifd.tiles))
			ifd.tileOffsets32 = nil
		} else {
			ifd.tileOffsets32 = make([]uint32, len(ifd.tiles))
			ifd.tileOffsets64 = nil
		}
		ifd.tileByteCounts = make([]uint32, len(ifd.tiles))
		for i, t := range ifd.tiles {
			ifd.tileByteCounts[i] = uint32(len(t))
		}
		ifd.ntags, ifd.tagsSize, ifd.strileSize = ifd.structure(g.bigtiff)
	}

	//offset to start of image data
	dataOffset := g.headerSize()
	for ifd := g.ifd; ifd != nil; ifd = ifd.overview {
		dataOffset += ifd.strileSize + ifd.tagsSize
	}

	for _, tile := range g.tileOrder() {
		if g.bigtiff {
			tile.ifd.tileOffsets64[tile.idx] = dataOffset
		} else {
			if dataOffset+uint64(len(tile.ifd.tiles[tile.idx])) > uint64(^uint32(0)) {
				//rerun with bigtiff support
				g.bigtiff = true
				return g.computeImageryOffsets()
			}
			tile.ifd.tileOffsets32[tile.idx] = uint32(dataOffset)
		}
		dataOffset += uint64(len(tile.ifd.tiles[tile.idx]))
	}
	return nil
}

func (g *geotiff) write(out io.Writer) error {
	if err := g.computeImageryOffsets(); err != nil {
		return err
	}

	//striles are placed after all ifds
	strileData := &tagData{Offset: g.headerSize()}
	for ifd := g.ifd; ifd != nil; ifd = ifd.overview {
		strileData.Offset += ifd.tagsSize
	}

	if err := g.writeHeader(out); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	off := g.headerSize()
	for ifd := g.ifd; ifd != nil; ifd = ifd.overview {
		if err := g.writeIFD(out, ifd, off, strileData, ifd.overview != nil); err != nil {
			return fmt.Errorf("write ifd: %w", err)
		}
		off += ifd.tagsSize
	}
	if _, err := out.Write(strileData.Bytes()); err != nil {
		return fmt.Errorf("write strile pointers: %w", err)
	}
	for _, tile := range g.tileOrder() {
		if _, err := out.Write(tile.ifd.tiles[tile.idx]); err != nil {
			return fmt.Errorf("write tile %d: %w", tile.idx, err)
		}
	}
	return nil
}

func (g *geotiff) writeIFD(w io.Writer, ifd *ifd, offset uint64, striledata *tagData, next bool) error {
	nextOff := uint64(0)
	if next {
		nextOff = offset + ifd.tagsSize
	}
	// Make space for "pointer area" containing IFD entry data
	// longer than 4 (or 8 for bigtiff) bytes.
	overflow := &tagData{
		Offset: offset + 8 + 20*ifd.ntags + 8,
	}
	if !g.bigtiff {
		overflow.Offset = offset + 2 + 12*ifd.ntags + 4
	}

	var err error
	if g.bigtiff {
		err = binary.Write(w, g.enc, ifd.ntags)
	} else {
		err = binary.Write(w, g.enc, uint16(ifd.ntags))
	}
	if err != nil {
		return fmt.Errorf("write tag count: %w", err)
	}
	for _, f := range ifd.fields() {
		dst := overflow
		if f.strile {
			dst = striledata
		}
		if err := g.writeField(w, f.tag, f.data, dst); err != nil {
			return fmt.Errorf("write tag %d: %w", f.tag, err)
		}
	}
	if g.bigtiff {
		err = binary.Write(w, g.enc, nextOff)
	} else {
		err = binary.Write(w, g.enc, uint32(nextOff))
	}
	if err != nil {
		return fmt.Errorf("write next: %w", err)
	}
	if _, err = w.Write(overflow.Bytes()); err != nil {
		return fmt.Errorf("write parea: %w", err)
	}
	return nil
}

type geotiffOptions struct {
	tileSize  int
	overviews bool
	workers   int
	bigtiff   bool
}

type GeoTIFFOption func(o *geotiffOptions) error

// GeoTIFFTileSize sets the internal tile size, a multiple of 16.
func GeoTIFFTileSize(size int) GeoTIFFOption {
	return func(o *geotiffOptions) error {
		if size <= 0 || size%16 != 0 {
			return ErrInvalidOption{"tile size must be a positive multiple of 16"}
		}
		o.tileSize = size
		return nil
	}
}

// GeoTIFFOverviews enables or disables the overview levels.
func GeoTIFFOverviews(enabled bool) GeoTIFFOption {
	return func(o *geotiffOptions) error {
		o.overviews = enabled
		return nil
	}
}

// GeoTIFFWorkers sets the number of concurrent tile encoders.
func GeoTIFFWorkers(n int) GeoTIFFOption {
	return func(o *geotiffOptions) error {
		if n <= 0 {
			return ErrInvalidOption{"geotiff workers must be >=1"}
		}
		o.workers = n
		return nil
	}
}

// BigTIFF forces the BigTIFF layout. It is otherwise only used when the
// file would exceed 4GB.
func BigTIFF() GeoTIFFOption {
	return func(o *geotiffOptions) error {
		o.bigtiff = true
		return nil
	}
}

// planes is the in-memory raster handed to the encoder.
type planes struct {
	grid         Grid
	data         [][]float64
	names        []string
	nodata       float64
	bits         uint16
	sampleFormat uint16
	colormap     []uint16
}

func (p *planes) putSample(buf []byte, v float64) {
	switch {
	case p.bits == 8:
		buf[0] = uint8(v)
	case p.sampleFormat == sampleFormatIEEEFP && p.bits == 32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	default:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	}
}

// WriteClassifiedGeoTIFF writes r as a single band uint8 paletted GeoTIFF.
// NoClass pixels are written as ClassNoData.
func WriteClassifiedGeoTIFF(w io.Writer, r *ClassifiedRaster, classes ClassTable, opts ...GeoTIFFOption) error {
	data := make([]float64, len(r.Labels))
	for i, l := range r.Labels {
		switch {
		case l == NoClass:
			data[i] = ClassNoData
		case l < 0 || l >= ClassNoData:
			return fmt.Errorf("label %d cannot be stored in a byte raster", l)
		default:
			data[i] = float64(l)
		}
	}
	cmap := make([]uint16, 3*256)
	for _, c := range classes {
		if c.Label < 0 || c.Label > 255 || c.Color == "" {
			continue
		}
		rgba, err := c.RGBA()
		if err != nil {
			return err
		}
		cmap[c.Label] = uint16(rgba.R) * 257
		cmap[256+c.Label] = uint16(rgba.G) * 257
		cmap[512+c.Label] = uint16(rgba.B) * 257
	}
	p := &planes{
		grid:         r.Grid,
		data:         [][]float64{data},
		names:        []string{"class"},
		nodata:       ClassNoData,
		bits:         8,
		sampleFormat: sampleFormatUInt,
		colormap:     cmap,
	}
	return writePlanes(w, p, opts...)
}

// WriteCompositeGeoTIFF writes every band of c as a float32 plane.
func WriteCompositeGeoTIFF(w io.Writer, c *CompositeRaster, opts ...GeoTIFFOption) error {
	if len(c.Bands) == 0 {
		return fmt.Errorf("composite has no bands")
	}
	p := &planes{
		grid:         c.Grid,
		nodata:       c.Bands[0].NoData,
		bits:         32,
		sampleFormat: sampleFormatIEEEFP,
	}
	for _, b := range c.Bands {
		data := b.Data
		if b.NoData != p.nodata {
			data = make([]float64, len(b.Data))
			for i := range b.Data {
				if b.IsNoData(i) {
					data[i] = p.nodata
				} else {
					data[i] = b.Data[i]
				}
			}
		}
		p.data = append(p.data, data)
		p.names = append(p.names, b.Name)
	}
	return writePlanes(w, p, opts...)
}

func writePlanes(w io.Writer, p *planes, opts ...GeoTIFFOption) error {
	o := geotiffOptions{tileSize: 256, overviews: true, workers: runtime.NumCPU()}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return err
		}
	}
	sopts := []StripperOption{InternalTileSize(o.tileSize, o.tileSize)}
	if !o.overviews {
		sopts = append(sopts, OverviewCount(0))
	}
	stripper, err := NewStripper(p.grid.Width, p.grid.Height, sopts...)
	if err != nil {
		return fmt.Errorf("newstripper: %w", err)
	}
	pyr := stripper.Pyramid()

	pool := gobs.NewPool(o.workers)
	levels := make([][][]float64, len(pyr))
	levels[0] = p.data
	for z := 1; z < len(pyr); z++ {
		levels[z] = downsample(pool, levels[z-1], pyr[z-1], pyr[z], p.nodata)
	}

	g := &geotiff{enc: binary.LittleEndian, bigtiff: o.bigtiff}
	for z, img := range pyr {
		ifd, err := p.encodeLevel(pool, levels[z], img.Width, img.Height, o.tileSize)
		if err != nil {
			return fmt.Errorf("encode level %d: %w", z, err)
		}
		if z == 0 {
			if err := p.georeference(ifd); err != nil {
				return err
			}
			g.ifd = ifd
		} else {
			g.ifd.AddOverview(ifd)
		}
	}
	return g.write(w)
}

// downsample computes the next pyramid level by nearest neighbour, one
// strip per task.
func downsample(pool *gobs.Pool, src [][]float64, srcImg, dstImg Image, nodata float64) [][]float64 {
	dst := make([][]float64, len(src))
	for i := range dst {
		dst[i] = make([]float64, dstImg.Width*dstImg.Height)
	}
	resX := float64(srcImg.Width) / float64(dstImg.Width)
	batch := pool.Batch()
	for _, strip := range dstImg.Strips {
		strip := strip
		batch.Submit(func() error {
			resY := strip.SrcHeight / float64(strip.Height)
			for y := 0; y < strip.Height; y++ {
				sy := min(int(strip.SrcTopLeftY+(float64(y)+0.5)*resY), srcImg.Height-1)
				for x := 0; x < dstImg.Width; x++ {
					sx := min(int((float64(x)+0.5)*resX), srcImg.Width-1)
					for p := range src {
						dst[p][(strip.TopLeftY+y)*dstImg.Width+x] = src[p][sy*srcImg.Width+sx]
					}
				}
			}
			return nil
		})
	}
	_ = batch.Wait()
	return dst
}

func (p *planes) encodeLevel(pool *gobs.Pool, data [][]float64, width, height, tileSize int) (*ifd, error) {
	ntx := (width + tileSize - 1) / tileSize
	nty := (height + tileSize - 1) / tileSize
	nplanes := len(data)
	ifd := &ifd{
		ImageWidth:                uint32(width),
		ImageLength:               uint32(height),
		Compression:               compressionDeflate,
		PhotometricInterpretation: photometricMinIsBlack,
		SamplesPerPixel:           uint16(nplanes),
		PlanarConfiguration:       planarConfigurationSeparate,
		TileWidth:                 uint16(tileSize),
		TileLength:                uint16(tileSize),
		NoData:                    strconv.FormatFloat(p.nodata, 'g', -1, 64),
		tiles:                     make([][]byte, nplanes*ntx*nty),
	}
	if nplanes == 1 {
		ifd.PlanarConfiguration = planarConfigurationContig
	}
	for i := 0; i < nplanes; i++ {
		ifd.BitsPerSample = append(ifd.BitsPerSample, p.bits)
		ifd.SampleFormat = append(ifd.SampleFormat, p.sampleFormat)
	}
	if nplanes > 1 {
		ifd.ExtraSamples = make([]uint16, nplanes-1)
	}
	if p.colormap != nil {
		ifd.PhotometricInterpretation = photometricPalette
		ifd.Colormap = p.colormap
	}

	sampleSize := int(p.bits / 8)
	batch := pool.Batch()
	for pl := 0; pl < nplanes; pl++ {
		for ty := 0; ty < nty; ty++ {
			for tx := 0; tx < ntx; tx++ {
				pl, tx, ty := pl, tx, ty
				batch.Submit(func() error {
					raw := make([]byte, tileSize*tileSize*sampleSize)
					for y := 0; y < tileSize; y++ {
						for x := 0; x < tileSize; x++ {
							v := p.nodata
							gx, gy := tx*tileSize+x, ty*tileSize+y
							if gx < width && gy < height {
								v = data[pl][gy*width+gx]
							}
							p.putSample(raw[(y*tileSize+x)*sampleSize:], v)
						}
					}
					var buf bytes.Buffer
					zw := zlib.NewWriter(&buf)
					if _, err := zw.Write(raw); err != nil {
						return err
					}
					if err := zw.Close(); err != nil {
						return err
					}
					ifd.tiles[(pl*nty+ty)*ntx+tx] = buf.Bytes()
					return nil
				})
			}
		}
	}
	if err := batch.Wait(); err != nil {
		return nil, err
	}
	return ifd, nil
}

type gdalMetadata struct {
	XMLName xml.Name   `xml:"GDALMetadata"`
	Items   []gdalItem `xml:"Item"`
}

type gdalItem struct {
	Name   string `xml:"name,attr"`
	Sample *int   `xml:"sample,attr,omitempty"`
	Role   string `xml:"role,attr,omitempty"`
	Value  string `xml:",chardata"`
}

func (p *planes) georeference(ifd *ifd) error {
	gt := p.grid.GeoTransform
	if gt[2] == 0 && gt[4] == 0 {
		ifd.ModelPixelScaleTag = []float64{gt[1], -gt[5], 0}
		ifd.ModelTiePointTag = []float64{0, 0, 0, gt[0], gt[3], 0}
	} else {
		ifd.ModelTransformationTag = []float64{
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		}
	}
	ifd.GeoKeyDirectoryTag, ifd.GeoAsciiParamsTag = geoKeys(p.grid.Projection)

	md := gdalMetadata{}
	for i, name := range p.names {
		i := i
		md.Items = append(md.Items, gdalItem{Name: "DESCRIPTION", Sample: &i, Role: "description", Value: name})
	}
	buf, err := xml.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode gdal metadata: %w", err)
	}
	ifd.GDALMetaData = string(buf)
	return nil
}

const (
	gtModelTypeGeoKey        = 1024
	gtRasterTypeGeoKey       = 1025
	gtCitationGeoKey         = 1026
	geographicTypeGeoKey     = 2048
	projectedCSTypeGeoKey    = 3072
	modelTypeProjected       = 1
	modelTypeGeographic      = 2
	modelTypeUserDefined     = 32767
	rasterPixelIsArea        = 1
	geoAsciiParamsTagLocator = 34737
)

// epsgCode returns n for projections of the form "EPSG:n".
func epsgCode(projection string) (int, bool) {
	if !strings.HasPrefix(strings.ToUpper(projection), "EPSG:") {
		return 0, false
	}
	code, err := strconv.Atoi(projection[5:])
	if err != nil {
		return 0, false
	}
	return code, true
}

// geoKeys builds the GeoKeyDirectory of a projection. Codes in the 4000
// range are taken as geographic CRSs. Other projection strings are stored
// as the citation of a user defined model.
func geoKeys(projection string) ([]uint16, string) {
	if projection == "" {
		return nil, ""
	}
	keys := [][4]uint16{}
	ascii := ""
	if code, ok := epsgCode(projection); ok {
		if code >= 4000 && code < 5000 {
			keys = append(keys,
				[4]uint16{gtModelTypeGeoKey, 0, 1, modelTypeGeographic},
				[4]uint16{gtRasterTypeGeoKey, 0, 1, rasterPixelIsArea},
				[4]uint16{geographicTypeGeoKey, 0, 1, uint16(code)})
		} else {
			keys = append(keys,
				[4]uint16{gtModelTypeGeoKey, 0, 1, modelTypeProjected},
				[4]uint16{gtRasterTypeGeoKey, 0, 1, rasterPixelIsArea},
				[4]uint16{projectedCSTypeGeoKey, 0, 1, uint16(code)})
		}
	} else {
		ascii = projection + "|"
		keys = append(keys,
			[4]uint16{gtModelTypeGeoKey, 0, 1, modelTypeUserDefined},
			[4]uint16{gtRasterTypeGeoKey, 0, 1, rasterPixelIsArea},
			[4]uint16{gtCitationGeoKey, geoAsciiParamsTagLocator, uint16(len(ascii)), 0})
	}
	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	return dir, ascii
}
