package landcover

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeGeoTIFFRoundtrip(t *testing.T) {
	g := testGrid(70, 45)
	a := make([]float64, g.Size())
	b := make([]float64, g.Size())
	for i := range a {
		a[i] = float64(i) / 7
		b[i] = -float64(i%13) * 0.1
	}
	a[5] = DefaultNoData
	c := &CompositeRaster{Tile: bandTile("c", g, map[string][]float64{"SR_B4": a, "NDVI": b})}

	for name, opts := range map[string][]GeoTIFFOption{
		"plain":     {GeoTIFFTileSize(32), GeoTIFFOverviews(false)},
		"overviews": {GeoTIFFTileSize(16), GeoTIFFWorkers(3)},
		"bigtiff":   {GeoTIFFTileSize(64), BigTIFF()},
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteCompositeGeoTIFF(&buf, c, opts...))
			back, err := ReadCompositeGeoTIFF(bytes.NewReader(buf.Bytes()), "back")
			require.NoError(t, err)
			assert.True(t, back.Grid.Equal(g), "%v", back.Grid)
			assert.Equal(t, "EPSG:32631", back.Projection)
			assert.Equal(t, c.BandNames(), back.BandNames())
			for _, orig := range c.Bands {
				rb, err := back.Band(orig.Name)
				require.NoError(t, err)
				assert.Equal(t, float64(DefaultNoData), rb.NoData)
				for i, v := range orig.Data {
					assert.InDelta(t, float64(float32(v)), rb.Data[i], 1e-9, "%s[%d]", orig.Name, i)
				}
			}
			assert.False(t, back.Valid("SR_B4", 5))
		})
	}
}

func TestClassifiedGeoTIFFRoundtrip(t *testing.T) {
	g := testGrid(20, 9)
	r := NewClassifiedRaster(g)
	for i := range r.Labels {
		r.Labels[i] = i % 5
		if i%5 == 4 {
			r.Labels[i] = NoClass
		}
	}
	var buf bytes.Buffer
	require.NoError(t, WriteClassifiedGeoTIFF(&buf, r, DefaultClasses(), GeoTIFFTileSize(16)))
	back, err := ReadClassifiedGeoTIFF(bytes.NewReader(buf.Bytes()), "back")
	require.NoError(t, err)
	assert.True(t, back.Grid.Equal(g))
	assert.Equal(t, r.Labels, back.Labels)

	r.Labels[0] = 300
	assert.Error(t, WriteClassifiedGeoTIFF(&buf, r, DefaultClasses()))
}

func TestGeoTIFFProjections(t *testing.T) {
	for _, proj := range []string{"EPSG:4326", "+proj=utm +zone=31 +datum=WGS84", ""} {
		g := testGrid(3, 2)
		g.Projection = proj
		c := &CompositeRaster{Tile: bandTile("c", g, map[string][]float64{"A": {1, 2, 3, 4, 5, 6}})}
		var buf bytes.Buffer
		require.NoError(t, WriteCompositeGeoTIFF(&buf, c, GeoTIFFTileSize(16)))
		back, err := ReadGeoTIFF(bytes.NewReader(buf.Bytes()), "back")
		require.NoError(t, err)
		assert.Equal(t, proj, back.Projection)
	}
}

func TestGeoTIFFRotated(t *testing.T) {
	g := Grid{Width: 2, Height: 2, GeoTransform: [6]float64{100, 10, 1, 200, 1, -10}, Projection: "EPSG:32631"}
	c := &CompositeRaster{Tile: bandTile("c", g, map[string][]float64{"A": {1, 2, 3, 4}})}
	var buf bytes.Buffer
	require.NoError(t, WriteCompositeGeoTIFF(&buf, c, GeoTIFFTileSize(16)))
	back, err := ReadGeoTIFF(bytes.NewReader(buf.Bytes()), "back")
	require.NoError(t, err)
	assert.Equal(t, g.GeoTransform, back.GeoTransform)
}

func TestGeoTIFFMixedNoData(t *testing.T) {
	g := testGrid(2, 1)
	c := &CompositeRaster{Tile: NewTile("c", g)}
	require.NoError(t, c.AddBand(&Band{Name: "A", NoData: DefaultNoData, Data: []float64{1, DefaultNoData}}))
	require.NoError(t, c.AddBand(&Band{Name: "B", NoData: math.NaN(), Data: []float64{math.NaN(), 2}}))
	var buf bytes.Buffer
	require.NoError(t, WriteCompositeGeoTIFF(&buf, c, GeoTIFFTileSize(16)))
	back, err := ReadCompositeGeoTIFF(bytes.NewReader(buf.Bytes()), "back")
	require.NoError(t, err)
	bb, _ := back.Band("B")
	assert.Equal(t, []float64{DefaultNoData, 2}, bb.Data)
}

func TestGeoTIFFOptions(t *testing.T) {
	c := &CompositeRaster{Tile: bandTile("c", testGrid(2, 2), map[string][]float64{"A": {1, 2, 3, 4}})}
	var buf bytes.Buffer
	assert.Error(t, WriteCompositeGeoTIFF(&buf, c, GeoTIFFTileSize(20)))
	assert.Error(t, WriteCompositeGeoTIFF(&buf, c, GeoTIFFWorkers(0)))
	assert.Error(t, WriteCompositeGeoTIFF(&buf, &CompositeRaster{Tile: NewTile("e", testGrid(2, 2))}))

	_, err := ReadGeoTIFF(bytes.NewReader([]byte("not a tiff")), "bad")
	assert.Error(t, err)
}
