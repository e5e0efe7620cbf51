package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"studentrisk/agent"
)

// DecisionEvent is the payload published for every decision.
type DecisionEvent struct {
	ID            string    `json:"id"`
	Attendance    float64   `json:"attendance"`
	Marks         float64   `json:"marks"`
	Assignments   float64   `json:"assignments"`
	ClassesMissed float64   `json:"classes_missed"`
	RiskLabel     string    `json:"risk_label"`
	Action        string    `json:"action"`
	Message       string    `json:"message"`
	Fingerprint   string    `json:"model_fingerprint"`
	At            time.Time `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes decisions to a Kafka topic.
type Publisher struct {
	writer      messageWriter
	topic       string
	fingerprint string
}

func NewPublisher(brokers []string, topic, fingerprint string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafkago.RequireOne,
		},
		topic:       topic,
		fingerprint: fingerprint,
	}
}

func (p *Publisher) Name() string {
	return "kafka"
}

func (p *Publisher) Apply(ctx context.Context, o agent.Outcome) error {
	msg, err := p.message(o)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

// message keys by risk label so one partition sees a label's stream in order.
func (p *Publisher) message(o agent.Outcome) (kafkago.Message, error) {
	value, err := json.Marshal(DecisionEvent{
		ID:            o.ID,
		Attendance:    o.Features.Attendance,
		Marks:         o.Features.Marks,
		Assignments:   o.Features.Assignments,
		ClassesMissed: o.Features.ClassesMissed,
		RiskLabel:     o.Label.String(),
		Action:        string(o.Decision.Action),
		Message:       o.Decision.Message,
		Fingerprint:   p.fingerprint,
		At:            o.At,
	})
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(o.Label.String()),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte("decision")},
			{Key: "event-id", Value: []byte(o.ID)},
		},
		Time: o.At,
	}, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
