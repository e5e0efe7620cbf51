package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const (
	DefaultEstimators = 100
	DefaultSeed       = 42
)

// RandomForest is a bagged ensemble of randomized decision trees over the
// fixed four-feature input.
type RandomForest struct {
	NEstimators     int
	Seed            int64
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int

	nClasses int
	trees    []*DecisionTree
}

func NewRandomForest(nEstimators int, seed int64) *RandomForest {
	if nEstimators <= 0 {
		nEstimators = DefaultEstimators
	}
	return &RandomForest{
		NEstimators:     nEstimators,
		Seed:            seed,
		MinSamplesSplit: 2,
		MaxFeatures:     int(math.Sqrt(FeatureCount)),
	}
}

// Fit trains the forest over codes in [0, nClasses). Codes missing from
// labels keep a zero probability in every leaf.
func (rf *RandomForest) Fit(features [][]float64, labels []int, nClasses int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if err := checkShape(features); err != nil {
		return err
	}
	if nClasses <= 0 {
		return errors.New("no classes to fit")
	}
	for _, label := range labels {
		if label < 0 || label >= nClasses {
			return &UnknownCodeError{Code: label}
		}
	}
	if rf.NEstimators <= 0 {
		rf.NEstimators = DefaultEstimators
	}

	master := rand.New(rand.NewSource(rf.Seed))
	trees := make([]*DecisionTree, 0, rf.NEstimators)
	n := len(features)
	for t := 0; t < rf.NEstimators; t++ {
		rng := rand.New(rand.NewSource(master.Int63()))
		sampleX := make([][]float64, n)
		sampleY := make([]int, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			sampleX[i] = features[j]
			sampleY[i] = labels[j]
		}
		tree := &DecisionTree{
			MaxDepth:        rf.MaxDepth,
			MinSamplesSplit: rf.MinSamplesSplit,
			MaxFeatures:     rf.MaxFeatures,
		}
		if err := tree.fit(sampleX, sampleY, nClasses, rng); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
		trees = append(trees, tree)
	}

	rf.nClasses = nClasses
	rf.trees = trees
	return nil
}

// Predict returns one class code per row, in row order.
func (rf *RandomForest) Predict(features [][]float64) ([]int, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return nil, err
	}
	codes := make([]int, len(proba))
	for i, p := range proba {
		codes[i] = argmax(p)
	}
	return codes, nil
}

// PredictProba averages the leaf class distributions of every tree.
func (rf *RandomForest) PredictProba(features [][]float64) ([][]float64, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotFitted
	}
	if len(features) == 0 {
		return nil, errors.New("empty batch")
	}
	if err := checkShape(features); err != nil {
		return nil, err
	}

	out := make([][]float64, len(features))
	for i, row := range features {
		sum := make([]float64, rf.nClasses)
		for _, tree := range rf.trees {
			p, err := tree.predictProba(row)
			if err != nil {
				return nil, err
			}
			for c := range sum {
				sum[c] += p[c]
			}
		}
		for c := range sum {
			sum[c] /= float64(len(rf.trees))
		}
		out[i] = sum
	}
	return out, nil
}

// NClasses is the size of the code space the forest predicts into.
func (rf *RandomForest) NClasses() int {
	return rf.nClasses
}

func (rf *RandomForest) Trees() int {
	return len(rf.trees)
}

func checkShape(features [][]float64) error {
	for i, row := range features {
		if len(row) != FeatureCount {
			return &ShapeMismatchError{Row: i, Want: FeatureCount, Got: len(row)}
		}
	}
	return nil
}

type randomForestJSON struct {
	NEstimators     int             `json:"n_estimators"`
	Seed            int64           `json:"seed"`
	MaxDepth        int             `json:"max_depth"`
	MinSamplesSplit int             `json:"min_samples_split"`
	MaxFeatures     int             `json:"max_features"`
	NClasses        int             `json:"n_classes"`
	NFeatures       int             `json:"n_features"`
	Trees           []*DecisionTree `json:"trees"`
}

func (rf *RandomForest) MarshalJSON() ([]byte, error) {
	if len(rf.trees) == 0 {
		return nil, ErrNotFitted
	}
	return json.Marshal(randomForestJSON{
		NEstimators:     rf.NEstimators,
		Seed:            rf.Seed,
		MaxDepth:        rf.MaxDepth,
		MinSamplesSplit: rf.MinSamplesSplit,
		MaxFeatures:     rf.MaxFeatures,
		NClasses:        rf.nClasses,
		NFeatures:       FeatureCount,
		Trees:           rf.trees,
	})
}

func (rf *RandomForest) UnmarshalJSON(data []byte) error {
	var payload randomForestJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if payload.NFeatures != FeatureCount {
		return &ShapeMismatchError{Row: -1, Want: FeatureCount, Got: payload.NFeatures}
	}
	if len(payload.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, tree := range payload.Trees {
		if tree == nil || tree.nClasses != payload.NClasses {
			return fmt.Errorf("tree %d does not match forest class count %d", i, payload.NClasses)
		}
	}
	rf.NEstimators = payload.NEstimators
	rf.Seed = payload.Seed
	rf.MaxDepth = payload.MaxDepth
	rf.MinSamplesSplit = payload.MinSamplesSplit
	rf.MaxFeatures = payload.MaxFeatures
	rf.nClasses = payload.NClasses
	rf.trees = payload.Trees
	return nil
}
