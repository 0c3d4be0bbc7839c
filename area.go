package landcover

import (
	"encoding/json"
	"fmt"
	"image/color"
	"sort"

	"github.com/paulmach/orb"
	"gopkg.in/go-playground/colors.v1"
)

// A Class is one entry of the land-cover legend.
type Class struct {
	Label int    `json:"label"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// RGBA parses the class color, any CSS hex, rgb() or rgba() notation.
func (c Class) RGBA() (color.RGBA, error) {
	if c.Color == "" {
		return color.RGBA{}, fmt.Errorf("class %d has no color", c.Label)
	}
	parsed, err := colors.Parse(c.Color)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("class %d color %q: %w", c.Label, c.Color, err)
	}
	rgba := parsed.ToRGBA()
	return color.RGBA{R: rgba.R, G: rgba.G, B: rgba.B, A: uint8(rgba.A * 255)}, nil
}

// ClassTable maps class labels to their names and colors.
type ClassTable []Class

// DefaultClasses is the four class water / vegetation / built-up / bare
// legend.
func DefaultClasses() ClassTable {
	return ClassTable{
		{Label: 0, Name: "Waterbody", Color: "#419bdf"},
		{Label: 1, Name: "Vegetation", Color: "#397d49"},
		{Label: 2, Name: "Built-up", Color: "#c4281b"},
		{Label: 3, Name: "Bare land", Color: "#a59b8f"},
	}
}

// Lookup returns the class with the given label.
func (ct ClassTable) Lookup(label int) (Class, bool) {
	for _, c := range ct {
		if c.Label == label {
			return c, true
		}
	}
	return Class{}, false
}

// Validate checks labels and names are unique and labels contiguous from 0.
func (ct ClassTable) Validate() error {
	seen := map[int]bool{}
	names := map[string]bool{}
	for _, c := range ct {
		if seen[c.Label] {
			return fmt.Errorf("duplicate class label %d", c.Label)
		}
		if c.Name == "" {
			return fmt.Errorf("class %d has no name", c.Label)
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate class name %q", c.Name)
		}
		seen[c.Label] = true
		names[c.Name] = true
	}
	for l := 0; l < len(ct); l++ {
		if !seen[l] {
			return fmt.Errorf("class labels must be contiguous from 0, missing %d", l)
		}
	}
	return nil
}

type areaOptions struct {
	unit          string
	factor        float64
	reportUnknown bool
}

type AreaOption func(o *areaOptions) error

// AreaUnit multiplies areas by factor and reports them in unit, e.g.
// AreaUnit("ha", 1e-4) for square meter pixels.
func AreaUnit(unit string, factor float64) AreaOption {
	return func(o *areaOptions) error {
		if unit == "" || factor <= 0 {
			return ErrInvalidOption{"area unit must be named with a factor >0"}
		}
		o.unit, o.factor = unit, factor
		return nil
	}
}

// ReportUnknownLabels reports labels missing from the class table under a
// generated name instead of failing.
func ReportUnknownLabels() AreaOption {
	return func(o *areaOptions) error {
		o.reportUnknown = true
		return nil
	}
}

// An AreaReport holds the area covered by each class label.
type AreaReport struct {
	Areas map[int]float64
	Names map[int]string
	Unit  string
	// Unknown lists labels found in the raster but absent from the class
	// table.
	Unknown []int
	// Total is the sum of all class areas.
	Total float64
}

// Labels returns the reported labels in ascending order.
func (r *AreaReport) Labels() []int {
	labels := make([]int, 0, len(r.Areas))
	for l := range r.Areas {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// MarshalJSON encodes the report as a class name to area object. Two labels
// sharing a name are an error.
func (r *AreaReport) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(r.Areas))
	for _, l := range r.Labels() {
		name := r.Names[l]
		if _, ok := out[name]; ok {
			return nil, fmt.Errorf("labels share class name %q", name)
		}
		out[name] = r.Areas[l]
	}
	return json.Marshal(out)
}

// AggregateArea sums pixelArea over the pixels of r carrying each class
// label. Only pixels whose center lies in region are counted, or every
// pixel when region is nil; NoClass pixels are ignored. A pixelArea of 0
// uses the area derived from the raster geotransform.
//
// A label absent from classes returns an *UnknownClassLabelError unless
// ReportUnknownLabels is given.
func AggregateArea(r *ClassifiedRaster, region orb.Geometry, pixelArea float64, classes ClassTable, opts ...AreaOption) (*AreaReport, error) {
	o := areaOptions{unit: "m2", factor: 1}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if pixelArea < 0 {
		return nil, fmt.Errorf("negative pixel area %g", pixelArea)
	}
	if pixelArea == 0 {
		pixelArea = r.PixelArea()
	}

	counts := map[int]int{}
	count := func(px int) {
		if l := r.Labels[px]; l != NoClass {
			counts[l]++
		}
	}
	if region == nil {
		for px := range r.Labels {
			count(px)
		}
	} else {
		x0, y0, x1, y1 := r.window(region.Bound())
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				if containsPoint(region, r.PixelCenter(x, y)) {
					count(y*r.Width + x)
				}
			}
		}
	}

	rep := &AreaReport{
		Areas: make(map[int]float64, len(counts)),
		Names: make(map[int]string, len(counts)),
		Unit:  o.unit,
	}
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	for _, l := range labels {
		c, ok := classes.Lookup(l)
		if !ok {
			if !o.reportUnknown {
				return nil, &UnknownClassLabelError{Label: l}
			}
			c.Name = unknownName(classes, l)
			rep.Unknown = append(rep.Unknown, l)
		}
		area := float64(counts[l]) * pixelArea * o.factor
		rep.Areas[l] = area
		rep.Names[l] = c.Name
		rep.Total += area
	}
	return rep, nil
}

// unknownName names a label absent from classes without reusing a class
// name.
func unknownName(classes ClassTable, label int) string {
	name := fmt.Sprintf("class %d", label)
	for {
		taken := false
		for _, c := range classes {
			if c.Name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
		name = "unknown " + name
	}
}
