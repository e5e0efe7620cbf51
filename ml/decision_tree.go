package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	// MaxFeatures is the number of features examined per split; 0 means all.
	MaxFeatures int

	nClasses int
	nodes    []TreeNode
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Proba      []float64 `json:"proba"`
	IsLeaf     bool      `json:"is_leaf"`
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, nClasses int, rng *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return &ShapeMismatchError{Row: i, Want: width, Got: len(row)}
		}
	}
	for _, label := range labels {
		if label < 0 || label >= nClasses {
			return fmt.Errorf("label %d outside [0,%d)", label, nClasses)
		}
	}
	if dt.MinSamplesSplit < 2 {
		dt.MinSamplesSplit = 2
	}

	dt.nClasses = nClasses
	dt.nodes = dt.nodes[:0]
	indices := make([]int, len(labels))
	for i := range indices {
		indices[i] = i
	}
	b := &treeBuilder{tree: dt, features: features, labels: labels, width: width, rng: rng}
	b.build(indices, 0)
	return nil
}

func (dt *DecisionTree) predictProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotFitted
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Proba, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

type decisionTreeJSON struct {
	MaxDepth        int        `json:"max_depth"`
	MinSamplesSplit int        `json:"min_samples_split"`
	MaxFeatures     int        `json:"max_features"`
	NClasses        int        `json:"n_classes"`
	Nodes           []TreeNode `json:"nodes"`
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotFitted
	}
	return json.Marshal(decisionTreeJSON{
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MaxFeatures:     dt.MaxFeatures,
		NClasses:        dt.nClasses,
		Nodes:           dt.nodes,
	})
}

func (dt *DecisionTree) UnmarshalJSON(data []byte) error {
	var payload decisionTreeJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if err := validateNodes(payload.Nodes, payload.NClasses); err != nil {
		return err
	}
	dt.MaxDepth = payload.MaxDepth
	dt.MinSamplesSplit = payload.MinSamplesSplit
	dt.MaxFeatures = payload.MaxFeatures
	dt.nClasses = payload.NClasses
	dt.nodes = payload.Nodes
	return nil
}

func validateNodes(nodes []TreeNode, nClasses int) error {
	if len(nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	if nClasses <= 0 {
		return errors.New("tree has no classes")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Proba) != nClasses {
				return fmt.Errorf("node %d: %d class probabilities, want %d", i, len(node.Proba), nClasses)
			}
			continue
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) || node.RightChild <= i || node.RightChild >= len(nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

type treeBuilder struct {
	tree     *DecisionTree
	features [][]float64
	labels   []int
	width    int
	rng      *rand.Rand
}

// build appends the subtree for indices and returns the index of its root.
func (b *treeBuilder) build(indices []int, depth int) int {
	dt := b.tree
	counts := b.classCounts(indices)
	self := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Proba:      normalize(counts, len(indices)),
		IsLeaf:     true,
	})

	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || len(indices) < dt.MinSamplesSplit || isPure(counts) {
		return self
	}

	feature, threshold, ok := b.findBestSplit(indices, counts)
	if !ok {
		return self
	}
	left, right := splitIndices(b.features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return self
	}

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	dt.nodes[self] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  leftIdx,
		RightChild: rightIdx,
		IsLeaf:     false,
	}
	return self
}

// findBestSplit draws features in random order and keeps looking past
// constant features until MaxFeatures informative ones were examined.
func (b *treeBuilder) findBestSplit(indices []int, parentCounts []int) (int, float64, bool) {
	maxFeatures := b.tree.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > b.width {
		maxFeatures = b.width
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := gini(parentCounts, len(indices))

	visited := 0
	for _, feature := range b.rng.Perm(b.width) {
		if visited >= maxFeatures {
			break
		}
		threshold, impurity, ok := b.scanFeature(indices, feature, parentCounts)
		if !ok {
			continue
		}
		visited++
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = feature
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// scanFeature returns the midpoint threshold with the lowest weighted Gini
// impurity for one feature. ok is false when the feature is constant.
func (b *treeBuilder) scanFeature(indices []int, feature int, parentCounts []int) (float64, float64, bool) {
	sorted := append([]int(nil), indices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
	})
	first := b.features[sorted[0]][feature]
	last := b.features[sorted[len(sorted)-1]][feature]
	if first == last {
		return 0, 0, false
	}

	n := len(sorted)
	leftCounts := make([]int, len(parentCounts))
	rightCounts := append([]int(nil), parentCounts...)
	bestImpurity := 2.0
	bestThreshold := 0.0
	for i := 0; i < n-1; i++ {
		label := b.labels[sorted[i]]
		leftCounts[label]++
		rightCounts[label]--

		cur := b.features[sorted[i]][feature]
		next := b.features[sorted[i+1]][feature]
		if cur == next {
			continue
		}
		leftN := i + 1
		rightN := n - leftN
		impurity := (float64(leftN)*gini(leftCounts, leftN) + float64(rightN)*gini(rightCounts, rightN)) / float64(n)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestThreshold = cur + (next-cur)/2
		}
	}
	return bestThreshold, bestImpurity, true
}

func (b *treeBuilder) classCounts(indices []int) []int {
	counts := make([]int, b.tree.nClasses)
	for _, idx := range indices {
		counts[b.labels[idx]]++
	}
	return counts
}

func splitIndices(features [][]float64, indices []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, idx := range indices {
		if features[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func normalize(counts []int, total int) []float64 {
	proba := make([]float64, len(counts))
	if total == 0 {
		return proba
	}
	for i, count := range counts {
		proba[i] = float64(count) / float64(total)
	}
	return proba
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, count := range counts {
		if count > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax breaks ties toward the lowest index.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
