package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649

// Prediction is an outlier model's verdict for one feature vector.
type Prediction struct {
	Outlier bool
	// Score is the decision value; more negative is more anomalous.
	Score float64
}

// OutlierModel classifies scaled feature vectors.
type OutlierModel interface {
	Predict(x []float64) (Prediction, error)
}

// Transformer maps raw feature vectors into the model's input space.
type Transformer interface {
	Transform(x []float64) ([]float64, error)
}

// Node is a flattened isolation tree node. Leaves have Left == -1.
type Node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted isolation forest. Offset shifts raw scores so that the
// contamination quantile of the training data sits at zero.
type Forest struct {
	Trees       []Tree  `json:"trees"`
	SampleSize  int     `json:"sample_size"`
	NumFeatures int     `json:"num_features"`
	Offset      float64 `json:"offset"`
}

// FitOptions controls forest training.
type FitOptions struct {
	NumTrees      int
	SampleSize    int
	Contamination float64
	Seed          int64
}

func DefaultFitOptions() FitOptions {
	return FitOptions{
		NumTrees:      200,
		SampleSize:    256,
		Contamination: 0.05,
		Seed:          42,
	}
}

// Fit trains an isolation forest on x.
func Fit(x [][]float64, opts FitOptions) (*Forest, error) {
	if len(x) < 2 {
		return nil, errors.New("need at least two samples to fit a forest")
	}
	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultFitOptions().NumTrees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultFitOptions().SampleSize
	}
	if opts.Contamination <= 0 || opts.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", opts.Contamination)
	}
	numFeatures := len(x[0])
	for i, row := range x {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), numFeatures)
		}
	}

	sampleSize := opts.SampleSize
	if sampleSize > len(x) {
		sampleSize = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	rng := rand.New(rand.NewSource(opts.Seed))
	f := &Forest{
		Trees:       make([]Tree, 0, opts.NumTrees),
		SampleSize:  sampleSize,
		NumFeatures: numFeatures,
	}
	for t := 0; t < opts.NumTrees; t++ {
		perm := rng.Perm(len(x))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for i, idx := range perm {
			sample[i] = x[idx]
		}
		b := treeBuilder{rng: rng, maxDepth: maxDepth, numFeatures: numFeatures}
		b.build(sample, 0)
		f.Trees = append(f.Trees, Tree{Nodes: b.nodes})
	}

	scores := make([]float64, len(x))
	for i, row := range x {
		scores[i] = f.scoreSample(row)
	}
	f.Offset = percentile(scores, opts.Contamination*100)
	return f, nil
}

type treeBuilder struct {
	rng         *rand.Rand
	maxDepth    int
	numFeatures int
	nodes       []Node
}

func (b *treeBuilder) build(data [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(data)})
	if len(data) <= 1 || depth >= b.maxDepth {
		return idx
	}

	feature, lo, hi, ok := b.pickFeature(data)
	if !ok {
		return idx
	}
	split := lo + b.rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Split = split
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// pickFeature returns a random feature that is not constant over data.
func (b *treeBuilder) pickFeature(data [][]float64) (int, float64, float64, bool) {
	for _, feature := range b.rng.Perm(b.numFeatures) {
		lo, hi := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			lo = math.Min(lo, row[feature])
			hi = math.Max(hi, row[feature])
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// Validate checks structural consistency of a decoded forest.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if f.SampleSize < 1 {
		return fmt.Errorf("invalid sample size %d", f.SampleSize)
	}
	if f.NumFeatures < 1 {
		return fmt.Errorf("invalid feature count %d", f.NumFeatures)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Left == -1 {
				continue
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", ti, ni)
			}
			if n.Feature < 0 || n.Feature >= f.NumFeatures {
				return fmt.Errorf("tree %d node %d splits on unknown feature %d", ti, ni, n.Feature)
			}
		}
	}
	return nil
}

// Predict scores x; negative decision values are outliers.
func (f *Forest) Predict(x []float64) (Prediction, error) {
	if len(x) != f.NumFeatures {
		return Prediction{}, fmt.Errorf("forest expects %d features, got %d", f.NumFeatures, len(x))
	}
	score := f.scoreSample(x) - f.Offset
	return Prediction{Outlier: score < 0, Score: score}, nil
}

// scoreSample returns the negated anomaly score 2^(-E[h(x)]/c(n)).
func (f *Forest) scoreSample(x []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += t.pathLength(x)
	}
	avg := total / float64(len(f.Trees))
	return -math.Pow(2, -avg/averagePathLength(f.SampleSize))
}

func (t Tree) pathLength(x []float64) float64 {
	depth := 0
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left == -1 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
