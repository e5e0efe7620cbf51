package ml

// Classifier maps a batch of feature rows to label codes, one per row.
type Classifier interface {
	Predict(features [][]float64) ([]int, error)
	NClasses() int
}

// Prediction is the serving output for one feature vector.
type Prediction struct {
	RiskLabel string `json:"risk_label"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}
