package landcover

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelRaster(g Grid, labels ...int) *ClassifiedRaster {
	r := NewClassifiedRaster(g)
	copy(r.Labels, labels)
	return r
}

func TestAggregateAreaSinglePixelCount(t *testing.T) {
	r := NewClassifiedRaster(testGrid(10, 10))
	for i := range r.Labels {
		r.Labels[i] = 1
	}
	rep, err := AggregateArea(r, nil, 900, DefaultClasses())
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 90000}, rep.Areas)
	assert.Equal(t, "Vegetation", rep.Names[1])
	assert.Equal(t, 90000.0, rep.Total)
	assert.Equal(t, "m2", rep.Unit)
}

func TestAggregateAreaSumsToTotal(t *testing.T) {
	rnd := rand.New(rand.NewSource(8))
	g := testGrid(31, 17)
	r := NewClassifiedRaster(g)
	valid := 0
	for i := range r.Labels {
		r.Labels[i] = rnd.Intn(5) - 1
		if r.Labels[i] != NoClass {
			valid++
		}
	}
	rep, err := AggregateArea(r, nil, 0, DefaultClasses())
	require.NoError(t, err)
	sum := 0.0
	for _, a := range rep.Areas {
		sum += a
	}
	assert.InDelta(t, float64(valid)*900, sum, 1e-6)
	assert.InDelta(t, rep.Total, sum, 1e-6)
	assert.Equal(t, []int{0, 1, 2, 3}, rep.Labels())
}

func TestAggregateAreaRegion(t *testing.T) {
	g := testGrid(4, 4)
	r := labelRaster(g,
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 3, 3,
		2, 2, 3, NoClass)
	region := square(4, 1, 1, 4, 4)
	rep, err := AggregateArea(r, region, 900, DefaultClasses())
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 900, 1: 1800, 2: 1800, 3: 2700}, rep.Areas)
	assert.Equal(t, 7200.0, rep.Total)

	rep, err = AggregateArea(r, orb.Bound{Min: orb.Point{500, 500}, Max: orb.Point{600, 600}}, 900, DefaultClasses())
	require.NoError(t, err)
	assert.Empty(t, rep.Areas)
	assert.Equal(t, 0.0, rep.Total)
}

func TestAggregateAreaUnit(t *testing.T) {
	r := labelRaster(testGrid(2, 1), 0, 0)
	rep, err := AggregateArea(r, nil, 900, DefaultClasses(), AreaUnit("ha", 1e-4))
	require.NoError(t, err)
	assert.InDelta(t, 0.18, rep.Areas[0], 1e-12)
	assert.Equal(t, "ha", rep.Unit)

	_, err = AggregateArea(r, nil, 900, DefaultClasses(), AreaUnit("", 1))
	assert.Error(t, err)
	_, err = AggregateArea(r, nil, -1, DefaultClasses())
	assert.Error(t, err)
}

func TestAggregateAreaUnknownLabel(t *testing.T) {
	r := labelRaster(testGrid(3, 1), 0, 7, 7)
	_, err := AggregateArea(r, nil, 900, DefaultClasses())
	var ucl *UnknownClassLabelError
	require.ErrorAs(t, err, &ucl)
	assert.Equal(t, 7, ucl.Label)

	rep, err := AggregateArea(r, nil, 900, DefaultClasses(), ReportUnknownLabels())
	require.NoError(t, err)
	assert.Equal(t, []int{7}, rep.Unknown)
	assert.Equal(t, "class 7", rep.Names[7])
	assert.Equal(t, 1800.0, rep.Areas[7])
}

func TestAreaReportJSON(t *testing.T) {
	r := labelRaster(testGrid(2, 1), 0, 3)
	rep, err := AggregateArea(r, nil, 900, DefaultClasses())
	require.NoError(t, err)
	buf, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Waterbody":900,"Bare land":900}`, string(buf))
}

func TestClassTable(t *testing.T) {
	require.NoError(t, DefaultClasses().Validate())
	c, ok := DefaultClasses().Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "Built-up", c.Name)
	rgba, err := c.RGBA()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xc4), rgba.R)
	assert.Equal(t, uint8(0x28), rgba.G)
	assert.Equal(t, uint8(0x1b), rgba.B)
	assert.Equal(t, uint8(255), rgba.A)

	assert.Error(t, ClassTable{{Label: 0, Name: "a"}, {Label: 0, Name: "b"}}.Validate())
	assert.Error(t, ClassTable{{Label: 0, Name: "a"}, {Label: 2, Name: "b"}}.Validate())
	assert.Error(t, ClassTable{{Label: 0}}.Validate())
	assert.Error(t, ClassTable{{Label: 0, Name: "Water"}, {Label: 1, Name: "Water"}}.Validate())
	_, err = Class{Label: 1, Color: "nope"}.RGBA()
	assert.Error(t, err)
}

func TestAreaReportUnknownNameCollision(t *testing.T) {
	classes := ClassTable{{Label: 0, Name: "class 7"}, {Label: 1, Name: "Vegetation"}}
	r := labelRaster(testGrid(3, 1), 0, 7, 7)
	rep, err := AggregateArea(r, nil, 900, classes, ReportUnknownLabels())
	require.NoError(t, err)
	assert.Equal(t, "unknown class 7", rep.Names[7])
	buf, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.JSONEq(t, `{"class 7":900,"unknown class 7":1800}`, string(buf))

	rep.Names[7] = "class 7"
	_, err = json.Marshal(rep)
	assert.Error(t, err)
}

func ExampleAggregateArea() {
	r := NewClassifiedRaster(Grid{Width: 3, Height: 1, GeoTransform: [6]float64{0, 30, 0, 30, 0, -30}})
	copy(r.Labels, []int{0, 1, 1})
	rep, err := AggregateArea(r, nil, 0, DefaultClasses(), AreaUnit("ha", 1e-4))
	if err != nil {
		panic(err)
	}
	for _, row := range rep.Rows() {
		fmt.Printf("%s: %.2f %s\n", row.Class, row.Area, row.Unit)
	}
	// Output:
	// Waterbody: 0.09 ha
	// Vegetation: 0.18 ha
}
