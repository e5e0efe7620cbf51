package ml

import "fmt"

// RiskLabel is the categorical outcome of classification.
type RiskLabel struct {
	value string
}

var (
	RiskSafe     = RiskLabel{value: "Safe"}
	RiskAtRisk   = RiskLabel{value: "At Risk"}
	RiskCritical = RiskLabel{value: "Critical"}
)

// RiskLabels returns the closed label set ordered by severity.
func RiskLabels() []RiskLabel {
	return []RiskLabel{RiskSafe, RiskAtRisk, RiskCritical}
}

func ParseRiskLabel(s string) (RiskLabel, error) {
	switch s {
	case RiskSafe.value:
		return RiskSafe, nil
	case RiskAtRisk.value:
		return RiskAtRisk, nil
	case RiskCritical.value:
		return RiskCritical, nil
	default:
		return RiskLabel{}, fmt.Errorf("invalid risk label: %q", s)
	}
}

// RawRiskLabel wraps a string decoded from a transcoder without checking it
// against the known set. Decide treats anything unrecognized as critical.
func RawRiskLabel(s string) RiskLabel {
	if label, err := ParseRiskLabel(s); err == nil {
		return label
	}
	return RiskLabel{value: s}
}

func (r RiskLabel) String() string {
	return r.value
}

// Severity is 0 for Safe, 1 for At Risk, 2 for Critical and -1 otherwise.
func (r RiskLabel) Severity() int {
	switch r {
	case RiskSafe:
		return 0
	case RiskAtRisk:
		return 1
	case RiskCritical:
		return 2
	default:
		return -1
	}
}

func (r RiskLabel) IsKnown() bool {
	return r.Severity() >= 0
}

func (r RiskLabel) MarshalText() ([]byte, error) {
	return []byte(r.value), nil
}

func (r *RiskLabel) UnmarshalText(text []byte) error {
	*r = RawRiskLabel(string(text))
	return nil
}
