package landcover

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/airbusgeo/landcover/log"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// ForestConfig holds the random forest hyper-parameters.
type ForestConfig struct {
	// Trees is the number of trees in the forest.
	Trees int `json:"trees"`
	// MaxFeatures is the number of features tried at each split, 0 for
	// the square root of the feature count.
	MaxFeatures int `json:"maxFeatures,omitempty"`
	// MinLeafSize is the minimum number of samples in a leaf.
	MinLeafSize int `json:"minLeafSize,omitempty"`
	// MaxDepth bounds the depth of the trees, 0 for unlimited.
	MaxDepth int `json:"maxDepth,omitempty"`
	// Seed makes training reproducible: tree i draws from Seed+i.
	Seed int64 `json:"seed"`
	// Workers is the number of trees grown concurrently.
	Workers int `json:"-"`
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, MinLeafSize: 1}
}

func (cfg ForestConfig) validate() error {
	if cfg.Trees <= 0 {
		return ErrInvalidOption{"forest must have at least one tree"}
	}
	if cfg.MaxFeatures < 0 || cfg.MinLeafSize < 0 || cfg.MaxDepth < 0 {
		return ErrInvalidOption{"forest parameters must be >=0"}
	}
	return nil
}

// A Model is a trained random forest together with the band names its
// features are read from and the labels it predicts.
type Model struct {
	Bands   []string
	Classes []int
	Trees   []*Tree
}

// Train grows a random forest on samples whose features are the given bands,
// in order. Each tree is fitted on a bootstrap sample of the same size as
// the training set, splitting nodes on the Gini impurity decrease of a
// random feature subset. Results only depend on the samples and cfg.Seed.
func Train(ctx context.Context, samples []TrainingSample, bands []string, cfg ForestConfig) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, &EmptyTrainingSetError{Label: NoClass}
	}
	p := len(bands)
	if p == 0 {
		return nil, fmt.Errorf("train: no feature bands")
	}
	classIdx := map[int]int{}
	for i, s := range samples {
		if len(s.Features) != p {
			return nil, fmt.Errorf("sample %d: %w", i, &FeatureMismatchError{Want: p, Got: len(s.Features)})
		}
		classIdx[s.Label] = 0
	}
	m := &Model{Bands: append([]string(nil), bands...)}
	for l := range classIdx {
		m.Classes = append(m.Classes, l)
	}
	sort.Ints(m.Classes)
	for i, l := range m.Classes {
		classIdx[l] = i
	}
	x := make([][]float64, len(samples))
	y := make([]int, len(samples))
	for i, s := range samples {
		x[i] = s.Features
		y[i] = classIdx[s.Label]
	}

	mtry := cfg.MaxFeatures
	if mtry == 0 {
		mtry = int(math.Sqrt(float64(p)))
	}
	if mtry < 1 {
		mtry = 1
	}
	minLeaf := cfg.MinLeafSize
	if minLeaf < 1 {
		minLeaf = 1
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log.Logger(ctx).Debug("training forest",
		zap.Int("samples", len(samples)), zap.Int("features", p),
		zap.Int("classes", len(m.Classes)), zap.Int("trees", cfg.Trees), zap.Int64("seed", cfg.Seed))

	m.Trees = make([]*Tree, cfg.Trees)
	pool := gobs.NewPool(workers)
	batch := pool.Batch()
	for t := range m.Trees {
		t := t
		batch.Submit(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(cfg.Seed + int64(t)))
			bag := make([]int, len(samples))
			for i := range bag {
				bag[i] = rnd.Intn(len(samples))
			}
			b := &treeBuilder{
				x: x, y: y, nClasses: len(m.Classes),
				maxFeatures: mtry, minLeaf: minLeaf, maxDepth: cfg.MaxDepth,
				rnd: rnd,
			}
			m.Trees[t] = b.build(bag)
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	return m, nil
}

// Predict returns the majority vote of the trees for feature vector x. Ties
// go to the lowest label.
func (m *Model) Predict(x []float64) (int, error) {
	if len(x) != len(m.Bands) {
		return NoClass, &FeatureMismatchError{Want: len(m.Bands), Got: len(x)}
	}
	return m.vote(x, make([]int, len(m.Classes))), nil
}

func (m *Model) vote(x []float64, votes []int) int {
	for i := range votes {
		votes[i] = 0
	}
	for _, t := range m.Trees {
		votes[t.predict(x)]++
	}
	return m.Classes[majority(votes)]
}

type classifyOptions struct {
	workers     int
	stripPixels int
}

type ClassifyOption func(o *classifyOptions) error

// ClassifyWorkers sets the number of strips classified concurrently.
func ClassifyWorkers(n int) ClassifyOption {
	return func(o *classifyOptions) error {
		if n <= 0 {
			return ErrInvalidOption{"classify workers must be >=1"}
		}
		o.workers = n
		return nil
	}
}

// Classify labels every pixel of c. The composite must carry every band the
// model was trained on, otherwise a *FeatureMismatchError listing the
// missing ones is returned. Pixels with a no-data feature are NoClass.
func (m *Model) Classify(ctx context.Context, c *CompositeRaster, opts ...ClassifyOption) (*ClassifiedRaster, error) {
	o := classifyOptions{workers: runtime.NumCPU(), stripPixels: 256 * 1024}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	src := make([]*Band, len(m.Bands))
	var missing []string
	for i, name := range m.Bands {
		b, err := c.Band(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		src[i] = b
	}
	if len(missing) > 0 {
		return nil, &FeatureMismatchError{Want: len(m.Bands), Got: len(m.Bands) - len(missing), Missing: missing}
	}
	out := NewClassifiedRaster(c.Grid)
	strips, err := rowStrips(c.Width, c.Height, o.stripPixels)
	if err != nil {
		return nil, err
	}
	pool := gobs.NewPool(o.workers)
	batch := pool.Batch()
	for _, strip := range strips {
		strip := strip
		batch.Submit(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x := make([]float64, len(src))
			votes := make([]int, len(m.Classes))
			start := strip.TopLeftY * c.Width
			end := start + strip.Height*c.Width
		pixels:
			for px := start; px < end; px++ {
				for i, b := range src {
					if b.IsNoData(px) {
						continue pixels
					}
					x[i] = b.Data[px]
				}
				out.Labels[px] = m.vote(x, votes)
			}
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return out, nil
}

// MarshalBinary encodes the model with gob.
func (m *Model) MarshalBinary() ([]byte, error) {
	type model Model
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*model)(m)); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a model encoded by MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error {
	type model Model
	var dec model
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&dec); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if len(dec.Trees) == 0 || len(dec.Classes) == 0 {
		return fmt.Errorf("decode model: empty forest")
	}
	for i, t := range dec.Trees {
		if err := t.validate(len(dec.Bands), len(dec.Classes)); err != nil {
			return fmt.Errorf("decode model: tree %d: %w", i, err)
		}
	}
	*m = Model(dec)
	return nil
}

// WriteModel saves m to w.
func WriteModel(w io.Writer, m *Model) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadModel loads a model saved by WriteModel.
func ReadModel(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m := &Model{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}
