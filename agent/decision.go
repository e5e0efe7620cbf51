package agent

import "studentrisk/ml"

type Action string

const (
	ActionMonitor  Action = "Monitor"
	ActionWarn     Action = "Warn"
	ActionEscalate Action = "Escalate"
)

const (
	messageStable   = "Student performance is stable. Continue current efforts."
	messageImprove  = "Student is at risk. Improve attendance and assignment completion."
	messageCritical = "Critical academic risk detected. Immediate mentor intervention required."
)

// Decision is the recommended action for a risk label.
type Decision struct {
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// Decide maps a label to its decision. Critical and any label outside the
// known set escalate.
func Decide(label ml.RiskLabel) Decision {
	switch label {
	case ml.RiskSafe:
		return Decision{Action: ActionMonitor, Message: messageStable}
	case ml.RiskAtRisk:
		return Decision{Action: ActionWarn, Message: messageImprove}
	case ml.RiskCritical:
		return Decision{Action: ActionEscalate, Message: messageCritical}
	default:
		return Decision{Action: ActionEscalate, Message: messageCritical}
	}
}

func Actions() []Action {
	return []Action{ActionMonitor, ActionWarn, ActionEscalate}
}
