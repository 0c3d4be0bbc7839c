package landcover

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SplitSamples shuffles samples with seed and returns the first
// trainFraction of them for training and the rest for validation. The
// split is done per label so that every class keeps the same proportion
// on both sides.
func SplitSamples(samples []TrainingSample, trainFraction float64, seed int64) (train, validation []TrainingSample) {
	byLabel := map[int][]int{}
	var labels []int
	for i, s := range samples {
		if _, ok := byLabel[s.Label]; !ok {
			labels = append(labels, s.Label)
		}
		byLabel[s.Label] = append(byLabel[s.Label], i)
	}
	rnd := rand.New(rand.NewSource(seed))
	for _, l := range labels {
		idx := byLabel[l]
		rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTrain := int(float64(len(idx))*trainFraction + 0.5)
		if nTrain == 0 && len(idx) > 0 {
			nTrain = 1
		}
		for k, i := range idx {
			if k < nTrain {
				train = append(train, samples[i])
			} else {
				validation = append(validation, samples[i])
			}
		}
	}
	return train, validation
}

// An Assessment is the confusion matrix of a model over labelled samples,
// rows being the reference labels and columns the predicted ones, both
// ordered as Classes.
type Assessment struct {
	Classes   []int
	Confusion *mat.Dense
	Overall   float64
	Kappa     float64
}

// Assess predicts every sample and compares it with its label.
func (m *Model) Assess(samples []TrainingSample) (*Assessment, error) {
	if len(samples) == 0 {
		return nil, &EmptyTrainingSetError{Label: NoClass}
	}
	idx := make(map[int]int, len(m.Classes))
	for i, c := range m.Classes {
		idx[c] = i
	}
	k := len(m.Classes)
	cm := mat.NewDense(k, k, nil)
	for i, s := range samples {
		ref, ok := idx[s.Label]
		if !ok {
			return nil, fmt.Errorf("sample %d: %w", i, &UnknownClassLabelError{Label: s.Label})
		}
		pred, err := m.Predict(s.Features)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		cm.Set(ref, idx[pred], cm.At(ref, idx[pred])+1)
	}
	n := float64(len(samples))
	diag := 0.0
	for i := 0; i < k; i++ {
		diag += cm.At(i, i)
	}
	ones := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		ones.SetVec(i, 1)
	}
	var rows, cols mat.VecDense
	rows.MulVec(cm, ones)
	cols.MulVec(cm.T(), ones)
	expected := mat.Dot(&rows, &cols) / (n * n)
	a := &Assessment{
		Classes:   append([]int(nil), m.Classes...),
		Confusion: cm,
		Overall:   diag / n,
	}
	if expected < 1 {
		a.Kappa = (a.Overall - expected) / (1 - expected)
	} else {
		a.Kappa = 1
	}
	return a, nil
}

// ProducerAccuracy returns, per class, the fraction of reference samples
// that were predicted correctly.
func (a *Assessment) ProducerAccuracy() []float64 {
	k := len(a.Classes)
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		if total := mat.Sum(a.Confusion.RowView(i)); total > 0 {
			out[i] = a.Confusion.At(i, i) / total
		}
	}
	return out
}

// ConsumerAccuracy returns, per class, the fraction of predictions that
// match the reference.
func (a *Assessment) ConsumerAccuracy() []float64 {
	k := len(a.Classes)
	out := make([]float64, k)
	for j := 0; j < k; j++ {
		if total := mat.Sum(a.Confusion.ColView(j)); total > 0 {
			out[j] = a.Confusion.At(j, j) / total
		}
	}
	return out
}
