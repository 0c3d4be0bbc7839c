package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/airbusgeo/landcover"
	"github.com/airbusgeo/landcover/log"
	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

var labelsFile string
var classifyOut, compositeOut, predictOut, areaOut string
var likeFile string
var warpSwitches string
var gdalConfigOpts []string
var compositeFile string
var modelFile, modelOut string
var classesFile string
var pixelArea float64
var overviews bool
var quiet bool

func init() {
	rootCmd.AddCommand(classifyCmd, compositeCmd, trainCmd, predictCmd, areaCmd)

	for _, c := range []*cobra.Command{classifyCmd, compositeCmd} {
		c.Flags().StringVar(&catalogFile, "catalog", "", "yaml scene catalog")
		c.MarkFlagRequired("catalog")
		c.Flags().StringVar(&catalogRoot, "catalogRoot", "", "directory relative band paths are resolved against, defaults to the catalog directory")
		c.Flags().StringVar(&likeFile, "like", "", "raster whose grid the composite is built on, defaults to the first scene's grid")
		c.Flags().StringVar(&warpSwitches, "warpSwitches", "", "extra gdalwarp switches, e.g: \"-r cubic -wm 512\"")
		c.Flags().StringArrayVar(&gdalConfigOpts, "gdalConfig", nil, "gdal configuration options")
		c.Flags().BoolVar(&quiet, "quiet", false, "do not display progress")
	}
	for _, c := range []*cobra.Command{classifyCmd, compositeCmd, predictCmd} {
		c.Flags().BoolVar(&overviews, "overviews", true, "write internal overviews")
	}

	classifyCmd.Flags().StringVar(&labelsFile, "labels", "", "labelled training geometries, geojson or csv")
	classifyCmd.MarkFlagRequired("labels")
	classifyCmd.Flags().StringVar(&classifyOut, "out", "out", "output directory or gs:// prefix")

	compositeCmd.Flags().StringVar(&compositeOut, "out", "composite.tif", "output composite")

	trainCmd.Flags().StringVar(&compositeFile, "composite", "", "composite geotiff")
	trainCmd.MarkFlagRequired("composite")
	trainCmd.Flags().StringVar(&labelsFile, "labels", "", "labelled training geometries, geojson or csv")
	trainCmd.MarkFlagRequired("labels")
	trainCmd.Flags().StringVar(&modelOut, "model", "model.gob", "output model")

	predictCmd.Flags().StringVar(&compositeFile, "composite", "", "composite geotiff")
	predictCmd.MarkFlagRequired("composite")
	predictCmd.Flags().StringVar(&modelFile, "model", "", "trained model")
	predictCmd.MarkFlagRequired("model")
	predictCmd.Flags().StringVar(&predictOut, "out", "classes.tif", "output classification")

	areaCmd.Flags().StringVar(&classesFile, "classes", "", "classified geotiff")
	areaCmd.MarkFlagRequired("classes")
	areaCmd.Flags().Float64Var(&pixelArea, "pixelArea", -1, "pixel area in squared projection units, 0 to derive it from the raster, negative to use the configuration")
	areaCmd.Flags().StringVar(&areaOut, "out", "", "output directory or gs:// prefix, stdout only if empty")
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "composite, train, classify and compute class areas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		labels, err := readLabels(ctx, labelsFile, cfg.LabelProperty)
		if err != nil {
			return err
		}
		p, cleanup, err := newPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		res, err := p.Run(ctx, labels)
		if err != nil {
			return err
		}
		return writeResult(ctx, cfg, res)
	},
}

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "build the cloud free median composite of the selected scenes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		p, cleanup, err := newPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		c, _, err := p.BuildComposite(ctx)
		if err != nil {
			return err
		}
		return writeOutput(ctx, compositeOut, func(w io.Writer) error {
			return landcover.WriteCompositeGeoTIFF(w, c, geotiffOptions()...)
		})
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train a random forest from a composite and labelled geometries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		c, err := readComposite(ctx, compositeFile)
		if err != nil {
			return err
		}
		labels, err := readLabels(ctx, labelsFile, cfg.LabelProperty)
		if err != nil {
			return err
		}
		p := &landcover.Pipeline{Config: cfg, Workers: workers}
		m, a, _, err := p.Train(ctx, c, labels)
		if err != nil {
			return err
		}
		if a != nil {
			printAssessment(a, cfg.Classes)
		}
		return writeOutput(ctx, modelOut, func(w io.Writer) error {
			return landcover.WriteModel(w, m)
		})
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "classify a composite with a trained model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		c, err := readComposite(ctx, compositeFile)
		if err != nil {
			return err
		}
		r, err := openInput(ctx, modelFile)
		if err != nil {
			return err
		}
		m, err := landcover.ReadModel(r)
		closeInput(r)
		if err != nil {
			return fmt.Errorf("%s: %w", modelFile, err)
		}
		cr, err := m.Classify(ctx, c, classifyOptions()...)
		if err != nil {
			return err
		}
		return writeOutput(ctx, predictOut, func(w io.Writer) error {
			return landcover.WriteClassifiedGeoTIFF(w, cr, cfg.Classes, geotiffOptions()...)
		})
	},
}

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "compute per class areas of a classified raster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		r, err := openInput(ctx, classesFile)
		if err != nil {
			return err
		}
		cr, err := landcover.ReadClassifiedGeoTIFF(r, classesFile)
		closeInput(r)
		if err != nil {
			return err
		}
		region, err := readRegion(ctx, cfg.Region)
		if err != nil {
			return err
		}
		pa := cfg.PixelArea
		if pixelArea >= 0 {
			pa = pixelArea
		}
		rep, err := landcover.AggregateArea(cr, region, pa, cfg.Classes, cfg.AreaOptions()...)
		if err != nil {
			return err
		}
		if err := landcover.WriteAreaCSV(os.Stdout, rep); err != nil {
			return err
		}
		if areaOut == "" {
			return nil
		}
		return writeAreas(ctx, areaOut, rep, cfg.Classes)
	},
}

func geotiffOptions() []landcover.GeoTIFFOption {
	opts := []landcover.GeoTIFFOption{landcover.GeoTIFFOverviews(overviews)}
	if workers > 0 {
		opts = append(opts, landcover.GeoTIFFWorkers(workers))
	}
	return opts
}

func classifyOptions() []landcover.ClassifyOption {
	if workers > 0 {
		return []landcover.ClassifyOption{landcover.ClassifyWorkers(workers)}
	}
	return nil
}

// newPipeline sets up the catalog, region and gdal loader of a run. The
// returned func removes temporary files.
func newPipeline(ctx context.Context, cfg landcover.Config) (*landcover.Pipeline, func(), error) {
	cat, err := loadCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	region, err := readRegion(ctx, cfg.Region)
	if err != nil {
		return nil, nil, err
	}
	switches, err := getSwitches(warpSwitches)
	if err != nil {
		return nil, nil, err
	}
	p := &landcover.Pipeline{
		Config:  cfg,
		Catalog: cat,
		Region:  region,
		Workers: workers,
	}
	scenes, err := p.Scenes()
	if err != nil {
		return nil, nil, err
	}
	like := likeFile
	if like == "" {
		src := scenes[0].Bands[cfg.LoadBands()[0]]
		like = cat.Path(src.Path)
	}
	grid, err := referenceGrid(ctx, like)
	if err != nil {
		return nil, nil, err
	}
	tmpdir, err := os.MkdirTemp(".", "landcover-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	p.Loader = &gdalLoader{
		grid:       grid,
		switches:   switches,
		configOpts: gdalConfigOpts,
		tmpdir:     tmpdir,
	}
	log.Logger(ctx).Info("reference grid", zap.String("like", like),
		zap.Int("width", grid.Width), zap.Int("height", grid.Height))
	if !quiet {
		bar := progressbar.Default(int64(len(scenes)), "Loading scenes")
		p.Loaded = func(landcover.Scene) { bar.Add(1) } //nolint:errcheck
	}
	return p, func() { os.RemoveAll(tmpdir) }, nil //nolint:errcheck
}

func readLabels(ctx context.Context, name, property string) ([]landcover.LabeledGeometry, error) {
	r, err := openInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer closeInput(r)
	var labels []landcover.LabeledGeometry
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		labels, err = landcover.ReadLabeledCSV(r)
	} else {
		labels, err = landcover.ReadLabeledGeoJSON(r, property)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return labels, nil
}

func readRegion(ctx context.Context, name string) (orb.Geometry, error) {
	if name == "" {
		return nil, nil
	}
	r, err := openInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer closeInput(r)
	g, err := landcover.ReadRegion(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return g, nil
}

func readComposite(ctx context.Context, name string) (*landcover.CompositeRaster, error) {
	r, err := openInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer closeInput(r)
	return landcover.ReadCompositeGeoTIFF(r, name)
}

func printAssessment(a *landcover.Assessment, classes landcover.ClassTable) {
	fmt.Printf("overall accuracy %.3f, kappa %.3f\n", a.Overall, a.Kappa)
	pa, ua := a.ProducerAccuracy(), a.ConsumerAccuracy()
	for i, l := range a.Classes {
		name := fmt.Sprintf("class %d", l)
		if c, ok := classes.Lookup(l); ok {
			name = c.Name
		}
		fmt.Printf("  %-12s producer %.3f consumer %.3f\n", name, pa[i], ua[i])
	}
}

// runSummary is the yaml record of a classify run.
type runSummary struct {
	Run      string             `json:"run"`
	Scenes   []string           `json:"scenes"`
	Samples  map[int]int        `json:"samples"`
	Overall  *float64           `json:"overallAccuracy,omitempty"`
	Kappa    *float64           `json:"kappa,omitempty"`
	Unit     string             `json:"unit"`
	Areas    map[string]float64 `json:"areas"`
	Unknown  []int              `json:"unknownLabels,omitempty"`
	Config   landcover.Config   `json:"config"`
	Duration string             `json:"duration"`
}

func writeAreas(ctx context.Context, prefix string, rep *landcover.AreaReport, classes landcover.ClassTable) error {
	if err := writeOutput(ctx, joinOutput(prefix, "areas.csv"), func(w io.Writer) error {
		return landcover.WriteAreaCSV(w, rep)
	}); err != nil {
		return err
	}
	if err := writeOutput(ctx, joinOutput(prefix, "areas.json"), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(rep)
	}); err != nil {
		return err
	}
	return writeOutput(ctx, joinOutput(prefix, "areas.png"), func(w io.Writer) error {
		return landcover.WriteAreaChart(w, rep, classes)
	})
}

func writeResult(ctx context.Context, cfg landcover.Config, res *landcover.Result) error {
	if err := writeOutput(ctx, joinOutput(classifyOut, "composite.tif"), func(w io.Writer) error {
		return landcover.WriteCompositeGeoTIFF(w, res.Composite, geotiffOptions()...)
	}); err != nil {
		return err
	}
	if err := writeOutput(ctx, joinOutput(classifyOut, "classes.tif"), func(w io.Writer) error {
		return landcover.WriteClassifiedGeoTIFF(w, res.Classified, cfg.Classes, geotiffOptions()...)
	}); err != nil {
		return err
	}
	if err := writeOutput(ctx, joinOutput(classifyOut, "quicklook.tif"), func(w io.Writer) error {
		return landcover.WriteQuicklook(w, res.Classified, cfg.Classes)
	}); err != nil {
		return err
	}
	if err := writeOutput(ctx, joinOutput(classifyOut, "model.gob"), func(w io.Writer) error {
		return landcover.WriteModel(w, res.Model)
	}); err != nil {
		return err
	}
	if err := writeAreas(ctx, classifyOut, res.Areas, cfg.Classes); err != nil {
		return err
	}

	sum := runSummary{
		Run:      runID,
		Samples:  res.Samples,
		Unit:     res.Areas.Unit,
		Areas:    map[string]float64{},
		Unknown:  res.Areas.Unknown,
		Config:   cfg,
		Duration: fmt.Sprintf("%.1fs", time.Since(startTime).Seconds()),
	}
	for _, s := range res.Scenes {
		sum.Scenes = append(sum.Scenes, s.ID)
	}
	for l, a := range res.Areas.Areas {
		sum.Areas[res.Areas.Names[l]] = a
	}
	if a := res.Assessment; a != nil {
		sum.Overall, sum.Kappa = &a.Overall, &a.Kappa
		printAssessment(a, cfg.Classes)
	}
	yb, err := yaml.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := writeOutput(ctx, joinOutput(classifyOut, "summary.yaml"), func(w io.Writer) error {
		_, err := w.Write(yb)
		return err
	}); err != nil {
		return err
	}
	return landcover.WriteAreaCSV(os.Stdout, res.Areas)
}
