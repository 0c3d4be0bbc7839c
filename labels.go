package landcover

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadLabeledGeoJSON decodes a FeatureCollection whose features carry their
// class label in the given property.
func ReadLabeledGeoJSON(r io.Reader, property string) ([]LabeledGeometry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	geoms := make([]LabeledGeometry, 0, len(fc.Features))
	for i, f := range fc.Features {
		label, err := labelProperty(f.Properties[property])
		if err != nil {
			return nil, fmt.Errorf("feature %d property %s: %w", i, property, err)
		}
		geoms = append(geoms, LabeledGeometry{Geometry: f.Geometry, Label: label})
	}
	return geoms, nil
}

func labelProperty(v interface{}) (int, error) {
	switch v := v.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("non integer label %g", v)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	case nil:
		return 0, fmt.Errorf("missing label")
	}
	return 0, fmt.Errorf("unsupported label type %T", v)
}

type labelRow struct {
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Label int     `csv:"label"`
}

// ReadLabeledCSV decodes point samples from a CSV file with x, y and label
// columns.
func ReadLabeledCSV(r io.Reader) ([]LabeledGeometry, error) {
	var rows []*labelRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decode label csv: %w", err)
	}
	geoms := make([]LabeledGeometry, len(rows))
	for i, row := range rows {
		geoms[i] = LabeledGeometry{Geometry: orb.Point{row.X, row.Y}, Label: row.Label}
	}
	return geoms, nil
}

// ReadRegion decodes an area of interest from a GeoJSON geometry, feature
// or feature collection. Collections are merged into a single geometry.
func ReadRegion(r io.Reader) (orb.Geometry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read region: %w", err)
	}
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		coll := make(orb.Collection, 0, len(fc.Features))
		for _, f := range fc.Features {
			coll = append(coll, f.Geometry)
		}
		if len(coll) == 1 {
			return coll[0], nil
		}
		return coll, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		return f.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decode region: %w", err)
	}
	return g.Geometry(), nil
}
