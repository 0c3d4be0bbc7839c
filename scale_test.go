package landcover

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedDifference(t *testing.T) {
	assert.InDelta(t, 0.4/0.6, normalizedDifference(0.5, 0.1, DefaultNoData), 1e-12)
	assert.Equal(t, float64(DefaultNoData), normalizedDifference(0.2, -0.2, DefaultNoData))
	assert.Equal(t, float64(DefaultNoData), normalizedDifference(0, 0, DefaultNoData))
	assert.Equal(t, float64(DefaultNoData), normalizedDifference(math.Inf(1), 1, DefaultNoData))
}

func TestScaleAndIndex(t *testing.T) {
	tile := bandTile("t", testGrid(4, 1), map[string][]float64{
		"NIR": {0.5, 0.2, DefaultNoData, 0.3},
		"RED": {0.1, -0.2, 0.1, 0.3},
	})
	m := allValid(tile)
	m.Valid[3] = false
	out, err := ScaleAndIndex(m, nil, []IndexDef{NDVI("NIR", "RED")})
	require.NoError(t, err)

	ndvi, err := out.Band("NDVI")
	require.NoError(t, err)
	assert.InDelta(t, 0.4/0.6, ndvi.Data[0], 1e-12)
	// A+B == 0
	assert.True(t, ndvi.IsNoData(1))
	assert.True(t, ndvi.IsNoData(2))
	assert.Equal(t, 0.0, ndvi.Data[3])
	for _, v := range ndvi.Data {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.Equal(t, m.Valid, out.Valid)
	assert.Equal(t, []string{"NIR", "RED"}, tile.BandNames())
}

func TestScaleLandsat(t *testing.T) {
	tile := bandTile("t", testGrid(2, 1), map[string][]float64{
		"SR_B1": {10000, DefaultNoData}, "SR_B2": {10000, 10000}, "SR_B3": {10000, 10000},
		"SR_B4": {10000, 10000}, "SR_B5": {20000, 10000}, "SR_B6": {10000, 10000},
		"SR_B7": {10000, 10000},
	})
	out, err := ScaleAndIndex(allValid(tile), Landsat8C2Scale(), Landsat8Indices())
	require.NoError(t, err)

	b1, err := out.Band("SR_B1")
	require.NoError(t, err)
	assert.InDelta(t, 0.075, b1.Data[0], 1e-12)
	assert.True(t, b1.IsNoData(1))

	ndvi, err := out.Band("NDVI")
	require.NoError(t, err)
	assert.InDelta(t, (0.35-0.075)/(0.35+0.075), ndvi.Data[0], 1e-9)
	assert.InDelta(t, 0, ndvi.Data[1], 1e-12)

	// input left untouched
	src, _ := tile.Band("SR_B1")
	assert.Equal(t, 10000.0, src.Data[0])
}

func TestScaleAndIndexErrors(t *testing.T) {
	tile := bandTile("t", testGrid(1, 1), map[string][]float64{"A": {1}, "B": {2}})
	var ibe *InvalidBandError

	_, err := ScaleAndIndex(allValid(tile), []BandScale{{Band: "C", Scale: 1}}, nil)
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "C", ibe.Band)

	_, err = ScaleAndIndex(allValid(tile), nil, []IndexDef{NormalizedDifference("X", "A", "Z")})
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "Z", ibe.Band)

	_, err = ScaleAndIndex(allValid(tile), nil, []IndexDef{NormalizedDifference("A", "A", "B")})
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "A", ibe.Band)
}

func TestScaleOntoRawNoData(t *testing.T) {
	tile := &Tile{ID: "t", Grid: testGrid(3, 1)}
	require.NoError(t, tile.AddBand(&Band{Name: "A", NoData: 0, Data: []float64{1, 0, 2}}))
	require.NoError(t, tile.AddBand(&Band{Name: "B", NoData: math.NaN(), Data: []float64{math.NaN(), 9998, 5}}))
	out, err := ScaleAndIndex(allValid(tile), []BandScale{
		{Band: "A", Scale: 1, Offset: -1},
		{Band: "B", Scale: -1, Offset: -1},
	}, nil)
	require.NoError(t, err)

	a, _ := out.Band("A")
	assert.Equal(t, float64(DefaultNoData), a.NoData)
	assert.Equal(t, []float64{0, DefaultNoData, 1}, a.Data)
	assert.False(t, a.IsNoData(0))
	assert.True(t, a.IsNoData(1))

	b, _ := out.Band("B")
	assert.True(t, b.IsNoData(0))
	// -9998-1 lands on DefaultNoData
	assert.False(t, b.IsNoData(1))
	assert.InDelta(t, DefaultNoData, b.Data[1], 1e-9)
	assert.Equal(t, -6.0, b.Data[2])
}
