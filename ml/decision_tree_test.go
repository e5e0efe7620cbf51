package ml

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitTree(t *testing.T, tree *DecisionTree, features [][]float64, labels []int, nClasses int) {
	t.Helper()
	require.NoError(t, tree.fit(features, labels, nClasses, rand.New(rand.NewSource(0))))
}

func treeLabel(t *testing.T, tree *DecisionTree, row []float64) int {
	t.Helper()
	proba, err := tree.predictProba(row)
	require.NoError(t, err)
	return argmax(proba)
}

func TestDecisionTreeFitPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	tree := &DecisionTree{MaxDepth: 2}
	fitTree(t, tree, features, labels, 3)

	proba, err := tree.predictProba([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, proba)
	assert.Equal(t, 2, treeLabel(t, tree, []float64{0.85, 0.85}))
}

func TestDecisionTreeDeepSplit(t *testing.T) {
	// needs two levels: x0 separates 0 from {1,2}, x1 separates 1 from 2
	features := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
	}
	labels := []int{0, 0, 1, 2, 0, 0, 1, 2}

	tree := &DecisionTree{}
	fitTree(t, tree, features, labels, 3)
	for i, row := range features {
		assert.Equal(t, labels[i], treeLabel(t, tree, row), "row %d", i)
	}
}

func TestDecisionTreeUnfitted(t *testing.T) {
	_, err := (&DecisionTree{}).predictProba([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestDecisionTreeJSONRoundTrip(t *testing.T) {
	features := [][]float64{{1, 1}, {2, 2}, {8, 8}, {9, 9}}
	labels := []int{0, 0, 1, 1}
	tree := &DecisionTree{MaxDepth: 3}
	fitTree(t, tree, features, labels, 2)

	payload, err := json.Marshal(tree)
	require.NoError(t, err)
	loaded := &DecisionTree{}
	require.NoError(t, json.Unmarshal(payload, loaded))
	assert.Len(t, loaded.nodes, len(tree.nodes))
	for _, row := range features {
		assert.Equal(t, treeLabel(t, tree, row), treeLabel(t, loaded, row))
	}
}

func TestDecisionTreeRejectsCorruptNodes(t *testing.T) {
	// node 0 points back at itself
	payload := `{"n_classes":2,"nodes":[{"feature_idx":0,"threshold":1,"left_child":0,"right_child":1},{"is_leaf":true,"proba":[1,0]}]}`
	assert.Error(t, json.Unmarshal([]byte(payload), &DecisionTree{}))

	payload = `{"n_classes":2,"nodes":[{"is_leaf":true,"proba":[1]}]}`
	assert.Error(t, json.Unmarshal([]byte(payload), &DecisionTree{}))
}

func TestDecisionTreeRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	tree := &DecisionTree{MaxDepth: 2}
	assert.Error(t, tree.fit(nil, nil, 2, rng))
	assert.Error(t, tree.fit([][]float64{{1}}, []int{0, 1}, 2, rng))
	assert.Error(t, tree.fit([][]float64{{1}}, []int{3}, 2, rng))

	var shapeErr *ShapeMismatchError
	require.ErrorAs(t, tree.fit([][]float64{{1, 2}, {1}}, []int{0, 1}, 2, rng), &shapeErr)
	assert.Equal(t, 1, shapeErr.Row)
}
