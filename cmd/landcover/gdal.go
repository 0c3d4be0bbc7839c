package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landcover"
	"github.com/airbusgeo/landcover/log"
	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

// gdalLoader reads scene bands with gdal, warping them onto a reference
// grid when their native grid differs.
type gdalLoader struct {
	grid       landcover.Grid
	switches   []string
	configOpts []string
	tmpdir     string
}

// getSwitches parses user supplied gdalwarp switches. Switches defining the
// output grid or data type are rejected as they are set by the loader.
func getSwitches(sw string) ([]string, error) {
	parsed, err := shellwords.Parse(sw)
	if err != nil {
		return nil, fmt.Errorf("invalid switches %q: %w", sw, err)
	}
	resamplingProvided := false
	for _, s := range parsed {
		switch s {
		case "-te", "-ts", "-tr", "-t_srs", "-of", "-ot", "-outsize", "-srcwin", "-projwin", "-overwrite":
			return nil, fmt.Errorf("%s switch not allowed", s)
		case "-r":
			resamplingProvided = true
		}
	}
	if !resamplingProvided {
		parsed = append(parsed, "-r", "near")
	}
	return parsed, nil
}

func printCommand(cmd []string) string {
	return shellescape.QuoteCommand(cmd)
}

// datasetGrid returns the pixel frame of an open dataset.
func datasetGrid(ds *godal.Dataset) (landcover.Grid, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return landcover.Grid{}, fmt.Errorf("datasets with no geotransform not supported")
	}
	st := ds.Structure()
	return landcover.Grid{
		Width:        st.SizeX,
		Height:       st.SizeY,
		GeoTransform: gt,
		Projection:   ds.Projection(),
	}, nil
}

// referenceGrid reads the grid of a template raster.
func referenceGrid(ctx context.Context, name string) (landcover.Grid, error) {
	if err := needGCS(ctx, name); err != nil {
		return landcover.Grid{}, err
	}
	ds, err := godal.Open(name, godal.RasterOnly())
	if err != nil {
		return landcover.Grid{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer ds.Close()
	g, err := datasetGrid(ds)
	if err != nil {
		return g, fmt.Errorf("%s: %w", name, err)
	}
	return g, nil
}

// warpSwitches targets the loader grid. Pixels outside the source footprint
// are written as NaN unless the user set -dstnodata.
func (l *gdalLoader) warpSwitches() []string {
	b := l.grid.Bound()
	sw := append([]string{}, l.switches...)
	dstNoData := false
	for _, s := range sw {
		if s == "-dstnodata" {
			dstNoData = true
		}
	}
	sw = append(sw, "-ot", "Float64")
	if !dstNoData {
		sw = append(sw, "-dstnodata", "nan")
	}
	sw = append(sw,
		"-te",
		fmt.Sprintf("%g", b.Min[0]), fmt.Sprintf("%g", b.Min[1]),
		fmt.Sprintf("%g", b.Max[0]), fmt.Sprintf("%g", b.Max[1]),
		"-ts", fmt.Sprintf("%d", l.grid.Width), fmt.Sprintf("%d", l.grid.Height))
	if l.grid.Projection != "" {
		sw = append(sw, "-t_srs", l.grid.Projection)
	}
	return sw
}

// open returns the dataset of path on the reference grid. The returned
// cleanup func must be called once the dataset is closed.
func (l *gdalLoader) open(ctx context.Context, path string) (*godal.Dataset, func(), error) {
	if err := needGCS(ctx, path); err != nil {
		return nil, nil, err
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	g, err := datasetGrid(ds)
	if err != nil {
		ds.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if g.Equal(l.grid) {
		return ds, func() {}, nil
	}
	defer ds.Close()
	tmp := filepath.Join(l.tmpdir, uuid.New().String()+".tif")
	sw := l.warpSwitches()
	log.Logger(ctx).Debug("warping band", zap.String("command",
		printCommand(append(append([]string{"gdalwarp"}, sw...), path, tmp))))
	wds, err := ds.Warp(tmp, sw,
		godal.CreationOption("TILED=YES", "COMPRESS=LZW"),
		godal.ConfigOption(l.configOpts...))
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return nil, nil, fmt.Errorf("warp %s: %w", path, err)
	}
	return wds, func() { os.Remove(tmp) }, nil //nolint:errcheck
}

// LoadTile reads the named bands of s, each one resampled onto the loader
// grid.
func (l *gdalLoader) LoadTile(ctx context.Context, c *landcover.Catalog, s landcover.Scene, bands []string) (*landcover.Tile, error) {
	t := landcover.NewTile(s.ID, l.grid)
	t.Acquired = s.Acquired
	t.CloudCover = s.CloudCover
	for _, name := range bands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, ok := s.Bands[name]
		if !ok {
			return nil, &landcover.InvalidBandError{Band: name, Tile: s.ID}
		}
		b, err := l.readBand(ctx, c.Path(src.Path), src.Index, name)
		if err != nil {
			return nil, fmt.Errorf("scene %s: %w", s.ID, err)
		}
		if err := t.AddBand(b); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (l *gdalLoader) readBand(ctx context.Context, path string, index int, name string) (*landcover.Band, error) {
	ds, cleanup, err := l.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	defer ds.Close()
	if index == 0 {
		index = 1
	}
	dsbands := ds.Bands()
	if index < 1 || index > len(dsbands) {
		return nil, &landcover.InvalidBandError{Band: name, Tile: path,
			Reason: fmt.Sprintf("band index %d out of range", index)}
	}
	band := dsbands[index-1]
	nodata, ok := band.NoData()
	if !ok {
		nodata = math.NaN()
	}
	data := make([]float64, l.grid.Size())
	if err := band.Read(0, 0, data, l.grid.Width, l.grid.Height); err != nil {
		return nil, fmt.Errorf("read %s band %d: %w", path, index, err)
	}
	return &landcover.Band{Name: name, NoData: nodata, Data: data}, nil
}
