package landcover

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/tiff"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
scenes:
- id: LC08_20220615
  acquired: "2022-06-15T10:30:00Z"
  cloudCover: 12.5
  footprint: [0, 0, 300, 300]
  bands:
    SR_B4: {path: 20220615.tif, index: 1}
    SR_B5: {path: 20220615.tif, index: 2}
    QA_PIXEL: {path: 20220615_qa.tif}
- id: LC08_20220301
  acquired: "2022-03-01T10:30:00Z"
  cloudCover: 3
  footprint: [0, 0, 300, 300]
  bands:
    SR_B4: {path: 20220301.tif, index: 1}
    SR_B5: {path: 20220301.tif, index: 2}
    QA_PIXEL: {path: /data/20220301_qa.tif}
- id: LC08_20220710
  acquired: "2022-07-10T10:30:00Z"
  cloudCover: 64
  bands:
    SR_B4: {path: 20220710.tif, index: 1}
- id: LC08_20230102
  acquired: "2023-01-02T10:30:00Z"
  cloudCover: 0
  footprint: [1000, 1000, 1300, 1300]
  bands:
    SR_B4: {path: gs://bucket/20230102.tif}
`

func readTestCatalog(t *testing.T, root string) *Catalog {
	t.Helper()
	c, err := ReadCatalog(strings.NewReader(testCatalog), root)
	require.NoError(t, err)
	return c
}

func sceneIDs(scenes []Scene) []string {
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.ID
	}
	return ids
}

func TestReadCatalog(t *testing.T) {
	c := readTestCatalog(t, "/scenes")
	require.Len(t, c.Scenes, 4)
	s := c.Scenes[0]
	assert.Equal(t, time.Date(2022, 6, 15, 10, 30, 0, 0, time.UTC), s.Acquired)
	assert.Equal(t, 12.5, s.CloudCover)
	assert.Equal(t, BandSource{Path: "20220615.tif", Index: 2}, s.Bands["SR_B5"])
	b, ok := s.Bound()
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{300, 300}}, b)
	_, ok = c.Scenes[2].Bound()
	assert.False(t, ok)

	assert.Equal(t, filepath.Join("/scenes", "20220615.tif"), c.Path("20220615.tif"))
	assert.Equal(t, "/data/20220301_qa.tif", c.Path("/data/20220301_qa.tif"))
	assert.Equal(t, "gs://bucket/20230102.tif", c.Path("gs://bucket/20230102.tif"))
	c.Root = "gs://scenes/l8/"
	assert.Equal(t, "gs://scenes/l8/20220615.tif", c.Path("20220615.tif"))

	_, err := ReadCatalog(strings.NewReader("scenes: [{bands: {A: {path: a.tif}}}]"), "")
	assert.Error(t, err)
	_, err = ReadCatalog(strings.NewReader("scenes: [{id: a}]"), "")
	assert.Error(t, err)
	_, err = ReadCatalog(strings.NewReader("scenes: {"), "")
	assert.Error(t, err)
}

func TestCatalogQuery(t *testing.T) {
	c := readTestCatalog(t, "")
	jan22 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	jan23 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	scenes, err := c.Query(Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"LC08_20220301", "LC08_20220615", "LC08_20220710", "LC08_20230102"}, sceneIDs(scenes))

	scenes, err = c.Query(Query{Start: jan22, End: jan23, MaxCloudCover: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"LC08_20220301", "LC08_20220615"}, sceneIDs(scenes))

	scenes, err = c.Query(Query{Start: time.Date(2022, 6, 15, 10, 30, 0, 0, time.UTC), End: time.Date(2022, 7, 10, 10, 30, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, []string{"LC08_20220615"}, sceneIDs(scenes))

	// scenes without footprint are kept
	scenes, err = c.Query(Query{Region: orb.Point{1100, 1100}})
	require.NoError(t, err)
	assert.Equal(t, []string{"LC08_20220710", "LC08_20230102"}, sceneIDs(scenes))

	scenes, err = c.Query(Query{Bands: []string{"SR_B4", "QA_PIXEL"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"LC08_20220301", "LC08_20220615"}, sceneIDs(scenes))

	_, err = c.Query(Query{Start: jan23.AddDate(1, 0, 0)})
	assert.ErrorIs(t, err, ErrNoScenes)
}

func writeTestGeoTIFF(t *testing.T, name string, g Grid, bands map[string][]float64) {
	t.Helper()
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, WriteCompositeGeoTIFF(f, &CompositeRaster{Tile: bandTile(filepath.Base(name), g, bands)}, GeoTIFFTileSize(16)))
}

func TestGeoTIFFLoader(t *testing.T) {
	dir := t.TempDir()
	g := testGrid(4, 3)
	writeTestGeoTIFF(t, filepath.Join(dir, "sr.tif"), g, map[string][]float64{
		"1red": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		"2nir": {10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120},
	})
	writeTestGeoTIFF(t, filepath.Join(dir, "qa.tif"), g, map[string][]float64{
		"qa": {0, 8, 0, 8, 0, 8, 0, 8, 0, 8, 0, 8},
	})
	writeTestGeoTIFF(t, filepath.Join(dir, "small.tif"), testGrid(2, 2), map[string][]float64{
		"x": {1, 2, 3, 4},
	})

	c := &Catalog{Root: dir}
	s := Scene{
		ID:       "s1",
		Acquired: time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC),
		Bands: map[string]BandSource{
			"SR_B4":    {Path: "sr.tif", Index: 1},
			"SR_B5":    {Path: "sr.tif", Index: 2},
			"QA_PIXEL": {Path: "qa.tif"},
			"BAD":      {Path: "sr.tif", Index: 3},
			"SMALL":    {Path: "small.tif"},
			"GONE":     {Path: "missing.tif"},
		},
	}
	opened := 0
	l := GeoTIFFLoader{Open: func(ctx context.Context, name string) (tiff.ReadAtReadSeeker, error) {
		opened++
		return OpenFile(ctx, name)
	}}
	ctx := context.Background()
	tile, err := l.LoadTile(ctx, c, s, []string{"SR_B5", "QA_PIXEL", "SR_B4"})
	require.NoError(t, err)
	assert.Equal(t, 2, opened)
	assert.Equal(t, "s1", tile.ID)
	assert.Equal(t, s.Acquired, tile.Acquired)
	assert.True(t, tile.Grid.Equal(g))
	assert.Equal(t, []string{"SR_B5", "QA_PIXEL", "SR_B4"}, tile.BandNames())
	nir, err := tile.Band("SR_B5")
	require.NoError(t, err)
	assert.Equal(t, 120.0, nir.Data[11])
	qa, _ := tile.Band("QA_PIXEL")
	assert.Equal(t, 8.0, qa.Data[1])

	var ibe *InvalidBandError
	_, err = l.LoadTile(ctx, c, s, []string{"BAD"})
	assert.ErrorAs(t, err, &ibe)
	_, err = l.LoadTile(ctx, c, s, []string{"SR_B8"})
	assert.ErrorAs(t, err, &ibe)
	_, err = l.LoadTile(ctx, c, s, []string{"SR_B4", "SMALL"})
	var gme *GridMismatchError
	assert.ErrorAs(t, err, &gme)
	_, err = GeoTIFFLoader{}.LoadTile(ctx, c, s, []string{"GONE"})
	assert.Error(t, err)
}
