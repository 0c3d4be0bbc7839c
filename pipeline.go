package landcover

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/airbusgeo/landcover/log"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// A Pipeline chains scene selection, masking, compositing, training,
// classification and area aggregation over a local catalog.
type Pipeline struct {
	Config  Config
	Catalog *Catalog
	Loader  TileLoader
	// Region restricts scene selection and area statistics. Nil means the
	// full composite extent.
	Region orb.Geometry
	// Workers bounds the number of scenes loaded concurrently.
	Workers int
	// Loaded is called once per scene after it has been masked and
	// scaled.
	Loaded func(s Scene)
}

// Result holds the outputs of a pipeline run.
type Result struct {
	Scenes     []Scene
	Composite  *CompositeRaster
	Samples    map[int]int
	Model      *Model
	Assessment *Assessment
	Classified *ClassifiedRaster
	Areas      *AreaReport
}

func (p *Pipeline) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// Scenes returns the catalog scenes matching the configuration.
func (p *Pipeline) Scenes() ([]Scene, error) {
	start, end, err := p.Config.Period()
	if err != nil {
		return nil, err
	}
	return p.Catalog.Query(Query{
		Start:         start,
		End:           end,
		MaxCloudCover: p.Config.MaxCloudCover,
		Region:        p.Region,
		Bands:         p.Config.LoadBands(),
	})
}

// LoadScene reads, masks and scales a single scene.
func (p *Pipeline) LoadScene(ctx context.Context, s Scene) (*MaskedTile, error) {
	t, err := p.Loader.LoadTile(ctx, p.Catalog, s, p.Config.LoadBands())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.ID, err)
	}
	m, err := BuildMask(t, p.Config.Mask)
	if err != nil {
		return nil, fmt.Errorf("mask %s: %w", s.ID, err)
	}
	m, err = ScaleAndIndex(m, p.Config.Scales, p.Config.Indices)
	if err != nil {
		return nil, fmt.Errorf("scale %s: %w", s.ID, err)
	}
	return m, nil
}

// BuildComposite loads every selected scene and reduces them to the median
// composite of the training bands.
func (p *Pipeline) BuildComposite(ctx context.Context) (*CompositeRaster, []Scene, error) {
	scenes, err := p.Scenes()
	if err != nil {
		return nil, nil, err
	}
	log.Logger(ctx).Info("selected scenes", zap.Int("count", len(scenes)))

	tiles := make([]*MaskedTile, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, s := range scenes {
		i, s := i, s
		g.Go(func() error {
			st := time.Now()
			m, err := p.LoadScene(gctx, s)
			if err != nil {
				return err
			}
			valid := m.ValidCount()
			log.Logger(gctx).Debug("loaded scene", zap.String("scene", s.ID),
				zap.Int("valid", valid), zap.Duration("took", time.Since(st)))
			if valid == 0 {
				log.Logger(gctx).Warn("scene fully masked", zap.String("scene", s.ID))
			}
			tiles[i] = m
			if p.Loaded != nil {
				p.Loaded(s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	c, err := Composite(ctx, tiles,
		CompositeBands(p.Config.TrainingBands...),
		CompositeWorkers(p.workers()))
	if err != nil {
		return nil, nil, fmt.Errorf("composite: %w", err)
	}
	return c, scenes, nil
}

// Train extracts samples under labels from c and trains a forest, holding
// out Config.ValidationFraction of them for an accuracy assessment.
func (p *Pipeline) Train(ctx context.Context, c *CompositeRaster, labels []LabeledGeometry) (*Model, *Assessment, map[int]int, error) {
	samples, err := ExtractSamples(c, labels, p.Config.TrainingBands)
	if err != nil {
		return nil, nil, nil, err
	}
	counts := SampleLabels(samples)
	for _, l := range sortedKeys(counts) {
		if _, ok := p.Config.Classes.Lookup(l); !ok {
			return nil, nil, nil, &UnknownClassLabelError{Label: l}
		}
	}
	log.Logger(ctx).Info("extracted samples", zap.Int("count", len(samples)), zap.Any("perClass", counts))

	train, validation := samples, []TrainingSample(nil)
	if f := p.Config.ValidationFraction; f > 0 {
		train, validation = SplitSamples(samples, 1-f, p.Config.Forest.Seed)
	}
	fc := p.Config.Forest
	if fc.Workers == 0 {
		fc.Workers = p.workers()
	}
	m, err := Train(ctx, train, p.Config.TrainingBands, fc)
	if err != nil {
		return nil, nil, nil, err
	}
	var a *Assessment
	if len(validation) > 0 {
		if a, err = m.Assess(validation); err != nil {
			return nil, nil, nil, fmt.Errorf("assess: %w", err)
		}
		log.Logger(ctx).Info("validation", zap.Int("samples", len(validation)),
			zap.Float64("overall", a.Overall), zap.Float64("kappa", a.Kappa))
	}
	return m, a, counts, nil
}

// Run executes the full chain, from scene selection to class areas.
func (p *Pipeline) Run(ctx context.Context, labels []LabeledGeometry) (*Result, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	res := &Result{}
	var err error
	st := time.Now()
	if res.Composite, res.Scenes, err = p.BuildComposite(ctx); err != nil {
		return nil, err
	}
	log.Logger(ctx).Info("composite built", zap.Duration("took", time.Since(st)))

	st = time.Now()
	if res.Model, res.Assessment, res.Samples, err = p.Train(ctx, res.Composite, labels); err != nil {
		return nil, err
	}
	log.Logger(ctx).Info("model trained", zap.Int("trees", len(res.Model.Trees)), zap.Duration("took", time.Since(st)))

	st = time.Now()
	if res.Classified, err = res.Model.Classify(ctx, res.Composite, ClassifyWorkers(p.workers())); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	log.Logger(ctx).Info("composite classified", zap.Duration("took", time.Since(st)))

	if res.Areas, err = AggregateArea(res.Classified, p.Region, p.Config.PixelArea,
		p.Config.Classes, p.Config.AreaOptions()...); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return res, nil
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
