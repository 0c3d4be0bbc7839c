package landcover

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const labelsGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"class":1,"name":"forest"},"geometry":{"type":"Point","coordinates":[15,105]}},
{"type":"Feature","properties":{"class":"0"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[60,0],[60,60],[0,60],[0,0]]]}}
]}`

func TestReadLabeledGeoJSON(t *testing.T) {
	geoms, err := ReadLabeledGeoJSON(strings.NewReader(labelsGeoJSON), "class")
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	assert.Equal(t, orb.Point{15, 105}, geoms[0].Geometry)
	assert.Equal(t, 1, geoms[0].Label)
	assert.IsType(t, orb.Polygon{}, geoms[1].Geometry)
	assert.Equal(t, 0, geoms[1].Label)

	_, err = ReadLabeledGeoJSON(strings.NewReader(labelsGeoJSON), "name")
	assert.Error(t, err)
	_, err = ReadLabeledGeoJSON(strings.NewReader(labelsGeoJSON), "missing")
	assert.Error(t, err)
	_, err = ReadLabeledGeoJSON(strings.NewReader(`{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"class":1.5},"geometry":{"type":"Point","coordinates":[0,0]}}]}`), "class")
	assert.Error(t, err)
	_, err = ReadLabeledGeoJSON(strings.NewReader("{"), "class")
	assert.Error(t, err)
}

func TestReadLabeledCSV(t *testing.T) {
	geoms, err := ReadLabeledCSV(strings.NewReader("x,y,label\n15,105,2\n45.5,75,0\n"))
	require.NoError(t, err)
	assert.Equal(t, []LabeledGeometry{
		{Geometry: orb.Point{15, 105}, Label: 2},
		{Geometry: orb.Point{45.5, 75}, Label: 0},
	}, geoms)

	_, err = ReadLabeledCSV(strings.NewReader("x,y,label\n1,2,water\n"))
	assert.Error(t, err)
}

func TestReadRegion(t *testing.T) {
	g, err := ReadRegion(strings.NewReader(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`))
	require.NoError(t, err)
	assert.IsType(t, orb.Polygon{}, g)

	g, err = ReadRegion(strings.NewReader(`{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[3,4]}}`))
	require.NoError(t, err)
	assert.Equal(t, orb.Point{3, 4}, g)

	g, err = ReadRegion(strings.NewReader(labelsGeoJSON))
	require.NoError(t, err)
	coll, ok := g.(orb.Collection)
	require.True(t, ok)
	assert.Len(t, coll, 2)

	_, err = ReadRegion(strings.NewReader(`[]`))
	assert.Error(t, err)
}
