package landcover

import (
	"fmt"
	"math/rand"
	"sort"
)

// A Node is either a split (Feature >= 0) sending x[Feature] <= Threshold
// to Left and the rest to Right, or a leaf predicting Class, an index into
// Model.Classes. Fields are exported for gob.
type Node struct {
	Feature     int
	Threshold   float64
	Left, Right int32
	Class       int
}

// A Tree is a binary decision tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predict(x []float64) int {
	n := &t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Class
}

// validate checks a decoded tree can be walked for nFeatures features and
// nClasses classes. Children come after their parent, which rules out
// cycles.
func (t *Tree) validate(nFeatures, nClasses int) error {
	if t == nil || len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			if n.Class < 0 || n.Class >= nClasses {
				return fmt.Errorf("node %d: class index %d out of range", i, n.Class)
			}
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		for _, c := range []int32{n.Left, n.Right} {
			if int(c) <= i || int(c) >= len(t.Nodes) {
				return fmt.Errorf("node %d: child %d out of range", i, c)
			}
		}
	}
	return nil
}

// treeBuilder grows a single CART tree with Gini impurity on a bootstrap
// sample. y holds class indexes.
type treeBuilder struct {
	x           [][]float64
	y           []int
	nClasses    int
	maxFeatures int
	minLeaf     int
	maxDepth    int
	rnd         *rand.Rand
	tree        *Tree

	order []int
}

func (b *treeBuilder) build(idx []int) *Tree {
	b.tree = &Tree{}
	b.order = make([]int, len(idx))
	b.grow(idx, 0)
	return b.tree
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

// majority returns the most frequent class, the lowest on ties.
func majority(counts []int) int {
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return best
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) grow(idx []int, depth int) int32 {
	id := int32(len(b.tree.Nodes))
	b.tree.Nodes = append(b.tree.Nodes, Node{Feature: -1})

	counts := make([]int, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	leaf := func() int32 {
		b.tree.Nodes[id].Class = majority(counts)
		return id
	}
	pure := counts[b.y[idx[0]]] == len(idx)
	if pure || len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return leaf()
	}

	s, ok := b.bestSplit(idx, counts)
	if !ok {
		return leaf()
	}
	var left, right []int
	for _, i := range idx {
		if b.x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.tree.Nodes[id].Feature = s.feature
	b.tree.Nodes[id].Threshold = s.threshold
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Nodes[id].Left, b.tree.Nodes[id].Right = l, r
	return id
}

// bestSplit scans a random subset of features for the threshold with the
// largest impurity decrease. Candidate thresholds are midpoints between
// consecutive distinct values.
func (b *treeBuilder) bestSplit(idx []int, counts []int) (split, bool) {
	n := len(idx)
	parent := gini(counts, n)
	p := len(b.x[idx[0]])
	features := b.rnd.Perm(p)
	if b.maxFeatures > 0 && b.maxFeatures < p {
		features = features[:b.maxFeatures]
	}

	best := split{feature: -1}
	left := make([]int, b.nClasses)
	right := make([]int, b.nClasses)
	order := b.order[:n]
	for _, f := range features {
		copy(order, idx)
		sort.SliceStable(order, func(i, j int) bool { return b.x[order[i]][f] < b.x[order[j]][f] })
		for c := range left {
			left[c] = 0
		}
		copy(right, counts)
		for k := 0; k < n-1; k++ {
			cls := b.y[order[k]]
			left[cls]++
			right[cls]--
			v, next := b.x[order[k]][f], b.x[order[k+1]][f]
			if v == next {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			gain := parent - (float64(nl)*gini(left, nl)+float64(nr)*gini(right, nr))/float64(n)
			if gain > best.gain+1e-12 {
				thr := v + (next-v)/2
				if thr >= next {
					thr = v
				}
				best = split{feature: f, threshold: thr, gain: gain}
			}
		}
	}
	return best, best.feature >= 0
}
