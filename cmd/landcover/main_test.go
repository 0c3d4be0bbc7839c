package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/landcover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSwitches(t *testing.T) {
	sw, err := getSwitches("")
	require.NoError(t, err)
	assert.Equal(t, []string{"-r", "near"}, sw)

	sw, err = getSwitches(`-r cubic -wo "NUM_THREADS=2"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"-r", "cubic", "-wo", "NUM_THREADS=2"}, sw)

	for _, bad := range []string{"-te 0 0 1 1", "-of VRT", "-ot Byte", "-tr 10 10", `-wo "unterminated`} {
		_, err = getSwitches(bad)
		assert.Error(t, err, bad)
	}
}

func TestWarpSwitches(t *testing.T) {
	l := &gdalLoader{
		grid: landcover.Grid{Width: 4, Height: 2,
			GeoTransform: [6]float64{100, 30, 0, 500, 0, -30}, Projection: "EPSG:32631"},
		switches: []string{"-r", "near"},
	}
	assert.Equal(t, []string{"-r", "near", "-ot", "Float64", "-dstnodata", "nan",
		"-te", "100", "440", "220", "500", "-ts", "4", "2", "-t_srs", "EPSG:32631"},
		l.warpSwitches())

	l.switches = []string{"-r", "near", "-dstnodata", "-9999"}
	assert.Equal(t, []string{"-r", "near", "-dstnodata", "-9999", "-ot", "Float64",
		"-te", "100", "440", "220", "500", "-ts", "4", "2", "-t_srs", "EPSG:32631"},
		l.warpSwitches())
	assert.Equal(t, "gdalwarp -r near 'a b.tif'", printCommand([]string{"gdalwarp", "-r", "near", "a b.tif"}))
}

func TestParseGSURL(t *testing.T) {
	b, o, err := parseGSURL("gs://bucket/path/to/file.tif")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "path/to/file.tif", o)

	for _, bad := range []string{"/tmp/file.tif", "gs://bucket", "gs:///file.tif"} {
		_, _, err = parseGSURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestJoinOutput(t *testing.T) {
	assert.Equal(t, "gs://b/run/areas.csv", joinOutput("gs://b/run/", "areas.csv"))
	assert.Equal(t, filepath.Join("out", "areas.csv"), joinOutput("out", "areas.csv"))
}

func TestLocalFilesWithoutGCS(t *testing.T) {
	ctx := context.Background()
	name := filepath.Join(t.TempDir(), "sub", "out.txt")
	require.NoError(t, writeOutput(ctx, name, func(w io.Writer) error {
		_, err := io.WriteString(w, "hello")
		return err
	}))
	r, err := openInput(ctx, name)
	require.NoError(t, err)
	defer closeInput(r)
	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.NoError(t, needGCS(ctx, name))
	assert.Nil(t, stcl)
	assert.Nil(t, gcsa)
}
