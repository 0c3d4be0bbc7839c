package landcover

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/gocarina/gocsv"
	"golang.org/x/image/tiff"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// AreaRow is one line of the area statistics table.
type AreaRow struct {
	Label    int     `csv:"label"`
	Class    string  `csv:"class"`
	Area     float64 `csv:"area"`
	Unit     string  `csv:"unit"`
	Fraction float64 `csv:"fraction"`
}

// Rows returns the report as table rows ordered by label.
func (r *AreaReport) Rows() []*AreaRow {
	rows := make([]*AreaRow, 0, len(r.Areas))
	for _, l := range r.Labels() {
		row := &AreaRow{Label: l, Class: r.Names[l], Area: r.Areas[l], Unit: r.Unit}
		if r.Total > 0 {
			row.Fraction = r.Areas[l] / r.Total
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteAreaCSV writes the per-class areas as CSV.
func WriteAreaCSV(w io.Writer, r *AreaReport) error {
	if err := gocsv.Marshal(r.Rows(), w); err != nil {
		return fmt.Errorf("write area csv: %w", err)
	}
	return nil
}

// WriteAreaChart renders the per-class areas as a PNG bar chart, bars
// colored after the class legend.
func WriteAreaChart(w io.Writer, r *AreaReport, classes ClassTable) error {
	p := plot.New()
	p.Title.Text = "Land cover"
	p.Title.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.Text = fmt.Sprintf("area (%s)", r.Unit)
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	labels := r.Labels()
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = r.Names[l]
		bars, err := plotter.NewBarChart(plotter.Values{r.Areas[l]}, vg.Points(30))
		if err != nil {
			return fmt.Errorf("bar chart: %w", err)
		}
		bars.XMin = float64(i)
		bars.LineStyle.Width = vg.Length(0)
		if c, ok := classes.Lookup(l); ok {
			if rgba, err := c.RGBA(); err == nil {
				bars.Color = rgba
			}
		}
		p.Add(bars)
	}
	p.NominalX(names...)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

// Quicklook returns the classified raster as a paletted image, unclassified
// pixels being transparent.
func Quicklook(r *ClassifiedRaster, classes ClassTable) (*image.Paletted, error) {
	pal := color.Palette{color.RGBA{}}
	index := map[int]uint8{}
	for _, c := range classes {
		if len(pal) == 256 {
			return nil, fmt.Errorf("more than 255 classes")
		}
		rgba, err := c.RGBA()
		if err != nil {
			return nil, err
		}
		index[c.Label] = uint8(len(pal))
		pal = append(pal, rgba)
	}
	img := image.NewPaletted(image.Rect(0, 0, r.Width, r.Height), pal)
	for i, l := range r.Labels {
		if l == NoClass {
			continue
		}
		idx, ok := index[l]
		if !ok {
			return nil, &UnknownClassLabelError{Label: l}
		}
		img.Pix[i] = idx
	}
	return img, nil
}

// WriteQuicklook encodes the Quicklook of r as a deflate compressed TIFF.
func WriteQuicklook(w io.Writer, r *ClassifiedRaster, classes ClassTable) error {
	img, err := Quicklook(r, classes)
	if err != nil {
		return err
	}
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode quicklook: %w", err)
	}
	return nil
}
