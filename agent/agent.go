package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"studentrisk/ml"
)

// Outcome is one full pass through the agent.
type Outcome struct {
	ID       string           `json:"id"`
	Features ml.FeatureVector `json:"features"`
	Label    ml.RiskLabel     `json:"risk_label"`
	Decision Decision         `json:"decision"`
	Cached   bool             `json:"cached"`
	At       time.Time        `json:"at"`
}

func (o Outcome) Prediction() ml.Prediction {
	return ml.Prediction{
		RiskLabel: o.Label.String(),
		Action:    string(o.Decision.Action),
		Message:   o.Decision.Message,
	}
}

// Effect is a side effect run during the act stage. Errors are logged and
// never change the decision.
type Effect interface {
	Name() string
	Apply(ctx context.Context, outcome Outcome) error
}

// LabelCache stores decoded labels by artifact fingerprint and feature key.
type LabelCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, label string)
}

// Agent runs perceive, decide and act over an immutable artifact. It keeps no
// per-call state and is safe for concurrent use.
type Agent struct {
	artifact *ml.Artifact
	effects  []Effect
	cache    LabelCache
	logger   *zap.Logger
	now      func() time.Time

	background       []Effect
	backgroundQueue  int
	backgroundWait   time.Duration
	backgroundWorker *backgroundEffects
}

type Option func(*Agent)

func WithEffects(effects ...Effect) Option {
	return func(a *Agent) {
		a.effects = append(a.effects, effects...)
	}
}

// WithBackgroundEffects runs effects off the request path. Outcomes are
// dropped with a warning when more than queueSize are waiting. Zero values
// pick DefaultBackgroundQueue and DefaultBackgroundTimeout.
func WithBackgroundEffects(queueSize int, timeout time.Duration, effects ...Effect) Option {
	return func(a *Agent) {
		a.background = append(a.background, effects...)
		a.backgroundQueue = queueSize
		a.backgroundWait = timeout
	}
}

func WithCache(cache LabelCache) Option {
	return func(a *Agent) {
		a.cache = cache
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(artifact *ml.Artifact, opts ...Option) (*Agent, error) {
	if artifact == nil {
		return nil, &ml.InferenceError{Err: errors.New("no trained artifact")}
	}
	if err := artifact.Validate(); err != nil {
		return nil, &ml.InferenceError{Err: err}
	}
	a := &Agent{
		artifact: artifact,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.background) > 0 {
		a.backgroundWorker = newBackgroundEffects(a.backgroundQueue, a.backgroundWait, a.background, a.logger)
	}
	return a, nil
}

// Close drains the background effects. The agent still decides afterwards
// but background effects are skipped.
func (a *Agent) Close() {
	if a.backgroundWorker != nil {
		a.backgroundWorker.close()
	}
}

func (a *Agent) Artifact() *ml.Artifact {
	return a.artifact
}

// Perceive classifies a single vector and decodes the code into a label.
func (a *Agent) Perceive(fv ml.FeatureVector) (ml.RiskLabel, error) {
	codes, err := a.artifact.Classifier.Predict([][]float64{fv.Values()})
	if err != nil {
		return ml.RiskLabel{}, &ml.InferenceError{Err: err}
	}
	if len(codes) == 0 {
		return ml.RiskLabel{}, &ml.InferenceError{Err: errors.New("classifier returned no prediction")}
	}
	label, err := a.artifact.Encoder.Decode(codes[0])
	if err != nil {
		return ml.RiskLabel{}, &ml.InferenceError{Err: err}
	}
	return ml.RawRiskLabel(label), nil
}

func (a *Agent) Decide(label ml.RiskLabel) Decision {
	return Decide(label)
}

// Act runs the inline effects, queues the background ones and returns the
// outcome's decision as is.
func (a *Agent) Act(ctx context.Context, outcome Outcome) Decision {
	for _, effect := range a.effects {
		if err := effect.Apply(ctx, outcome); err != nil {
			a.logger.Warn("effect failed",
				zap.String("effect", effect.Name()),
				zap.String("outcome_id", outcome.ID),
				zap.Error(err))
		}
	}
	if a.backgroundWorker != nil && !a.backgroundWorker.submit(outcome) {
		a.logger.Warn("background effects skipped", zap.String("outcome_id", outcome.ID))
	}
	return outcome.Decision
}

// Run is Act(Decide(Perceive(fv))).
func (a *Agent) Run(ctx context.Context, fv ml.FeatureVector) (Outcome, error) {
	label, cached, err := a.perceiveCached(ctx, fv)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{
		ID:       uuid.NewString(),
		Features: fv,
		Label:    label,
		Decision: a.Decide(label),
		Cached:   cached,
		At:       a.now().UTC(),
	}
	outcome.Decision = a.Act(ctx, outcome)
	return outcome, nil
}

func (a *Agent) perceiveCached(ctx context.Context, fv ml.FeatureVector) (ml.RiskLabel, bool, error) {
	if a.cache == nil {
		label, err := a.Perceive(fv)
		return label, false, err
	}
	key := a.artifact.Manifest.Fingerprint + ":" + fv.Key()
	if raw, ok := a.cache.Get(ctx, key); ok {
		return ml.RawRiskLabel(raw), true, nil
	}
	label, err := a.Perceive(fv)
	if err != nil {
		return ml.RiskLabel{}, false, err
	}
	a.cache.Set(ctx, key, label.String())
	return label, false, nil
}
