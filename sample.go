package landcover

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// A LabeledGeometry is a ground truth point or polygon, in the CRS of the
// composite, tagged with a class label.
type LabeledGeometry struct {
	Geometry orb.Geometry
	Label    int
}

// A TrainingSample is the feature vector of one composite pixel and the
// label of the geometry it was drawn from.
type TrainingSample struct {
	Features []float64
	Label    int
	X, Y     int
}

// ExtractSamples reads the given bands of c under every labeled geometry.
// Points yield their enclosing pixel and polygons every pixel whose center
// they contain. Pixels where any requested band is no-data are skipped.
// Samples are ordered by geometry, then row-major within a geometry.
//
// A label carried by a geometry that yields no sample at all returns an
// *EmptyTrainingSetError.
func ExtractSamples(c *CompositeRaster, geoms []LabeledGeometry, bands []string) ([]TrainingSample, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("extract samples: no bands")
	}
	src := make([]*Band, len(bands))
	for i, name := range bands {
		b, err := c.Band(name)
		if err != nil {
			return nil, err
		}
		src[i] = b
	}
	counts := map[int]int{}
	var samples []TrainingSample
	for gi, g := range geoms {
		if g.Label < 0 {
			return nil, fmt.Errorf("geometry %d: negative label %d", gi, g.Label)
		}
		if _, ok := counts[g.Label]; !ok {
			counts[g.Label] = 0
		}
		pixelsIn(c.Grid, g.Geometry, func(x, y int) {
			px := y*c.Width + x
			features := make([]float64, len(src))
			for i, b := range src {
				if b.IsNoData(px) {
					return
				}
				features[i] = b.Data[px]
			}
			samples = append(samples, TrainingSample{Features: features, Label: g.Label, X: x, Y: y})
			counts[g.Label]++
		})
	}
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	for _, l := range labels {
		if counts[l] == 0 {
			return nil, &EmptyTrainingSetError{Label: l}
		}
	}
	return samples, nil
}

// SampleLabels returns the number of samples per label.
func SampleLabels(samples []TrainingSample) map[int]int {
	counts := map[int]int{}
	for _, s := range samples {
		counts[s.Label]++
	}
	return counts
}
