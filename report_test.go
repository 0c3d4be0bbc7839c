package landcover

import (
	"bytes"
	"image"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func testReport(t *testing.T) *AreaReport {
	t.Helper()
	r := labelRaster(testGrid(4, 1), 1, 0, 1, NoClass)
	rep, err := AggregateArea(r, nil, 900, DefaultClasses())
	require.NoError(t, err)
	return rep
}

func TestAreaRows(t *testing.T) {
	rows := testReport(t).Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, AreaRow{Label: 0, Class: "Waterbody", Area: 900, Unit: "m2", Fraction: 1.0 / 3}, *rows[0])
	assert.Equal(t, AreaRow{Label: 1, Class: "Vegetation", Area: 1800, Unit: "m2", Fraction: 2.0 / 3}, *rows[1])
}

func TestWriteAreaCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAreaCSV(&buf, testReport(t)))
	assert.Contains(t, buf.String(), "label,class,area,unit,fraction\n")

	var rows []*AreaRow
	require.NoError(t, gocsv.Unmarshal(&buf, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Vegetation", rows[1].Class)
	assert.Equal(t, 1800.0, rows[1].Area)
}

func TestWriteAreaChart(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAreaChart(&buf, testReport(t), DefaultClasses()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestQuicklook(t *testing.T) {
	r := labelRaster(testGrid(2, 2), 3, NoClass, 0, 1)
	img, err := Quicklook(r, DefaultClasses())
	require.NoError(t, err)
	assert.Equal(t, []uint8{4, 0, 1, 2}, img.Pix)
	assert.Len(t, img.Palette, 5)
	_, _, _, a := img.Palette[0].RGBA()
	assert.Zero(t, a)

	var buf bytes.Buffer
	require.NoError(t, WriteQuicklook(&buf, r, DefaultClasses()))
	dec, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), dec.Bounds())

	r.Labels[1] = 9
	_, err = Quicklook(r, DefaultClasses())
	var ucl *UnknownClassLabelError
	assert.ErrorAs(t, err, &ucl)
}
