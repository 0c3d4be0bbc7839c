package landcover

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSamples(t *testing.T) {
	samples := noisySamples(rand.New(rand.NewSource(4)), 300)
	train, validation := SplitSamples(samples, 0.7, 1)
	assert.Len(t, append(train, validation...), 300)

	all := SampleLabels(samples)
	tr := SampleLabels(train)
	for l, n := range all {
		assert.InDelta(t, float64(n)*0.7, float64(tr[l]), 1)
	}

	train2, validation2 := SplitSamples(samples, 0.7, 1)
	assert.Equal(t, train, train2)
	assert.Equal(t, validation, validation2)

	// each class keeps a training sample
	train, _ = SplitSamples(samples[:3], 0.01, 1)
	assert.Equal(t, len(SampleLabels(samples[:3])), len(SampleLabels(train)))
}

func TestAssessPerfect(t *testing.T) {
	m, err := Train(context.Background(), twoClusterSamples(), []string{"A", "B"}, ForestConfig{Trees: 5})
	require.NoError(t, err)
	a, err := m.Assess(twoClusterSamples())
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Overall)
	assert.InDelta(t, 1.0, a.Kappa, 1e-12)
	assert.Equal(t, 5.0, a.Confusion.At(0, 0))
	assert.Equal(t, 0.0, a.Confusion.At(0, 1))
	assert.Equal(t, []float64{1, 1}, a.ProducerAccuracy())
	assert.Equal(t, []float64{1, 1}, a.ConsumerAccuracy())
}

func TestAssessConfusion(t *testing.T) {
	// a forest that always predicts label 0
	m := &Model{Bands: []string{"A"}, Classes: []int{0, 1}, Trees: []*Tree{{Nodes: []Node{{Feature: -1, Class: 0}}}}}
	samples := []TrainingSample{
		{Features: []float64{0}, Label: 0},
		{Features: []float64{0}, Label: 0},
		{Features: []float64{0}, Label: 0},
		{Features: []float64{0}, Label: 1},
	}
	a, err := m.Assess(samples)
	require.NoError(t, err)
	assert.Equal(t, 0.75, a.Overall)
	assert.InDelta(t, 0, a.Kappa, 1e-12)
	assert.Equal(t, []float64{1, 0}, a.ProducerAccuracy())
	assert.Equal(t, []float64{0.75, 0}, a.ConsumerAccuracy())

	_, err = m.Assess([]TrainingSample{{Features: []float64{0}, Label: 9}})
	var ucl *UnknownClassLabelError
	assert.ErrorAs(t, err, &ucl)
	_, err = m.Assess(nil)
	var ete *EmptyTrainingSetError
	assert.ErrorAs(t, err, &ete)
}
