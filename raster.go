package landcover

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// DefaultNoData is the no-data value given to bands created by this package.
const DefaultNoData = -9999

// NoClass marks unclassified pixels in a ClassifiedRaster.
const NoClass = -1

// Grid is the pixel frame of a raster: its size, its affine geotransform
// (GDAL ordering) and its projection, either "EPSG:n" or WKT.
type Grid struct {
	Width, Height int
	GeoTransform  [6]float64
	Projection    string
}

// Size returns the number of pixels in the grid.
func (g Grid) Size() int {
	return g.Width * g.Height
}

// Equal reports whether both grids describe the same pixels.
func (g Grid) Equal(o Grid) bool {
	if g.Width != o.Width || g.Height != o.Height || g.Projection != o.Projection {
		return false
	}
	for i := range g.GeoTransform {
		if math.Abs(g.GeoTransform[i]-o.GeoTransform[i]) > 1e-9*math.Max(1, math.Abs(g.GeoTransform[i])) {
			return false
		}
	}
	return true
}

// PixelCenter returns the georeferenced center of pixel x,y.
func (g Grid) PixelCenter(x, y int) orb.Point {
	fx, fy := float64(x)+0.5, float64(y)+0.5
	gt := g.GeoTransform
	return orb.Point{
		gt[0] + fx*gt[1] + fy*gt[2],
		gt[3] + fx*gt[4] + fy*gt[5],
	}
}

// PixelAt returns the pixel containing p. ok is false when p falls outside
// the grid.
func (g Grid) PixelAt(p orb.Point) (x, y int, ok bool) {
	gt := g.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := p[0]-gt[0], p[1]-gt[3]
	fx := (dx*gt[5] - dy*gt[2]) / det
	fy := (dy*gt[1] - dx*gt[4]) / det
	x, y = int(math.Floor(fx)), int(math.Floor(fy))
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return 0, 0, false
	}
	return x, y, true
}

// PixelArea returns the ground area covered by one pixel, in squared
// projection units.
func (g Grid) PixelArea() float64 {
	gt := g.GeoTransform
	return math.Abs(gt[1]*gt[5] - gt[2]*gt[4])
}

// Bound returns the georeferenced extent of the grid.
func (g Grid) Bound() orb.Bound {
	gt := g.GeoTransform
	b := orb.Bound{Min: orb.Point{gt[0], gt[3]}, Max: orb.Point{gt[0], gt[3]}}
	for _, c := range [][2]float64{{float64(g.Width), 0}, {0, float64(g.Height)}, {float64(g.Width), float64(g.Height)}} {
		b = b.Extend(orb.Point{gt[0] + c[0]*gt[1] + c[1]*gt[2], gt[3] + c[0]*gt[4] + c[1]*gt[5]})
	}
	return b
}

// window returns the pixel rectangle [x0,x1)x[y0,y1) whose footprint may
// intersect b.
func (g Grid) window(b orb.Bound) (x0, y0, x1, y1 int) {
	x0, y0 = g.Width, g.Height
	corners := []orb.Point{b.Min, b.Max, {b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]}}
	gt := g.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, 0, 0
	}
	for _, p := range corners {
		dx, dy := p[0]-gt[0], p[1]-gt[3]
		fx := (dx*gt[5] - dy*gt[2]) / det
		fy := (dy*gt[1] - dx*gt[4]) / det
		x0 = min(x0, int(math.Floor(fx)))
		y0 = min(y0, int(math.Floor(fy)))
		x1 = max(x1, int(math.Ceil(fx)))
		y1 = max(y1, int(math.Ceil(fy)))
	}
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, g.Width), min(y1, g.Height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return
}

// Band is a named grid of float64 samples, row-major.
type Band struct {
	Name   string
	NoData float64
	Data   []float64
}

// NewBand allocates a band of size pixels set to nodata.
func NewBand(name string, size int, nodata float64) *Band {
	b := &Band{Name: name, NoData: nodata, Data: make([]float64, size)}
	for i := range b.Data {
		b.Data[i] = nodata
	}
	return b
}

// IsNoData reports whether pixel i holds no data. NaN is always no data.
func (b *Band) IsNoData(i int) bool {
	v := b.Data[i]
	return v == b.NoData || math.IsNaN(v)
}

// dataValue moves a valid value that would read as DefaultNoData to the
// next representable value towards zero.
func dataValue(v float64) float64 {
	if v == DefaultNoData {
		return math.Nextafter(v, 0)
	}
	return v
}

func (b *Band) clone() *Band {
	c := &Band{Name: b.Name, NoData: b.NoData, Data: make([]float64, len(b.Data))}
	copy(c.Data, b.Data)
	return c
}

// A Tile is a single acquisition over a grid, with its bands in a fixed
// order.
type Tile struct {
	Grid
	ID         string
	Acquired   time.Time
	CloudCover float64
	Bands      []*Band
}

// NewTile creates a tile with the named bands filled with DefaultNoData.
func NewTile(id string, grid Grid, bands ...string) *Tile {
	t := &Tile{ID: id, Grid: grid}
	for _, name := range bands {
		t.Bands = append(t.Bands, NewBand(name, grid.Size(), DefaultNoData))
	}
	return t
}

// Band returns the band called name.
func (t *Tile) Band(name string) (*Band, error) {
	for _, b := range t.Bands {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, &InvalidBandError{Band: name, Tile: t.ID}
}

// BandNames returns the band names in order.
func (t *Tile) BandNames() []string {
	names := make([]string, len(t.Bands))
	for i, b := range t.Bands {
		names[i] = b.Name
	}
	return names
}

// AddBand appends b to the tile.
func (t *Tile) AddBand(b *Band) error {
	if len(b.Data) != t.Size() {
		return fmt.Errorf("band %s has %d pixels, tile %s has %d", b.Name, len(b.Data), t.ID, t.Size())
	}
	if _, err := t.Band(b.Name); err == nil {
		return &InvalidBandError{Band: b.Name, Tile: t.ID, Reason: "already exists"}
	}
	t.Bands = append(t.Bands, b)
	return nil
}

func (t *Tile) clone() *Tile {
	c := *t
	c.Bands = make([]*Band, len(t.Bands))
	for i, b := range t.Bands {
		c.Bands[i] = b.clone()
	}
	return &c
}

// A MaskedTile is a tile paired with its per-pixel validity.
type MaskedTile struct {
	*Tile
	Valid []bool
}

// ValidCount returns the number of valid pixels.
func (m *MaskedTile) ValidCount() int {
	n := 0
	for _, v := range m.Valid {
		if v {
			n++
		}
	}
	return n
}

// A CompositeRaster holds one value per pixel and band reduced over time.
// Pixels without any valid observation hold the band's NoData.
type CompositeRaster struct {
	*Tile
}

// Valid reports whether pixel i of band carries a value.
func (c *CompositeRaster) Valid(band string, i int) bool {
	b, err := c.Band(band)
	if err != nil {
		return false
	}
	return !b.IsNoData(i)
}

// A ClassifiedRaster holds one class label per pixel, NoClass where the
// classifier could not run.
type ClassifiedRaster struct {
	Grid
	Labels []int
}

// NewClassifiedRaster returns a raster with every pixel set to NoClass.
func NewClassifiedRaster(g Grid) *ClassifiedRaster {
	r := &ClassifiedRaster{Grid: g, Labels: make([]int, g.Size())}
	for i := range r.Labels {
		r.Labels[i] = NoClass
	}
	return r
}
