package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"studentrisk/agent"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

const defaultAlertTemplate = `[{{.Level}}] {{.Title}}
{{.Message}}
attendance={{.Attendance}} marks={{.Marks}} assignments={{.Assignments}} classes_missed={{.ClassesMissed}}
{{.Timestamp}}`

// Alert 告警结构
type Alert struct {
	ID            string     `json:"id"`
	Level         AlertLevel `json:"level"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Attendance    float64    `json:"attendance"`
	Marks         float64    `json:"marks"`
	Assignments   float64    `json:"assignments"`
	ClassesMissed float64    `json:"classes_missed"`
	Timestamp     string     `json:"timestamp"`
}

// RateLimit 限流配置
type RateLimit struct {
	MaxPerHour int
	Cooldown   time.Duration
}

// AlertConfig 告警配置
type AlertConfig struct {
	WebhookURL string
	// Actions 触发告警的动作，为空时只对 Escalate 告警
	Actions   []agent.Action
	RateLimit RateLimit
	Template  string
	Timeout   time.Duration
}

// Alerter 把需要导师介入的决策推送到 webhook
type Alerter struct {
	config     AlertConfig
	actions    map[agent.Action]bool
	template   *template.Template
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	hourStart time.Time
	hourCount int
	lastSent  time.Time
	dropped   int64
}

// NewAlerter 创建告警器
func NewAlerter(config AlertConfig, logger *zap.Logger) (*Alerter, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("alert webhook url is required")
	}
	text := config.Template
	if text == "" {
		text = defaultAlertTemplate
	}
	tmpl, err := template.New("alert").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if len(config.Actions) == 0 {
		config.Actions = []agent.Action{agent.ActionEscalate}
	}
	actions := make(map[agent.Action]bool, len(config.Actions))
	for _, a := range config.Actions {
		actions[a] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		config:     config,
		actions:    actions,
		template:   tmpl,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (a *Alerter) Name() string {
	return "alert"
}

// Apply 只对配置的动作告警，限流时丢弃
func (a *Alerter) Apply(ctx context.Context, o agent.Outcome) error {
	if !a.actions[o.Decision.Action] {
		return nil
	}
	if !a.allow() {
		a.logger.Debug("alert rate limited", zap.String("id", o.ID))
		return nil
	}

	alert := a.build(o)
	var body strings.Builder
	if err := a.template.Execute(&body, alert); err != nil {
		return fmt.Errorf("render alert: %w", err)
	}
	return a.send(ctx, map[string]interface{}{
		"text":  body.String(),
		"alert": alert,
	})
}

// Dropped 被限流丢弃的告警数
func (a *Alerter) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Alerter) build(o agent.Outcome) Alert {
	level := AlertWarning
	if o.Decision.Action == agent.ActionEscalate {
		level = AlertCritical
	}
	return Alert{
		ID:            o.ID,
		Level:         level,
		Title:         fmt.Sprintf("Student risk: %s", o.Label),
		Message:       o.Decision.Message,
		Attendance:    o.Features.Attendance,
		Marks:         o.Features.Marks,
		Assignments:   o.Features.Assignments,
		ClassesMissed: o.Features.ClassesMissed,
		Timestamp:     o.At.Format("2006-01-02 15:04:05"),
	}
}

// allow 检查每小时上限和冷却时间
func (a *Alerter) allow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.hourStart) >= time.Hour {
		a.hourStart = now
		a.hourCount = 0
	}
	limit := a.config.RateLimit
	if limit.MaxPerHour > 0 && a.hourCount >= limit.MaxPerHour {
		a.dropped++
		return false
	}
	if limit.Cooldown > 0 && !a.lastSent.IsZero() && now.Sub(a.lastSent) < limit.Cooldown {
		a.dropped++
		return false
	}
	a.hourCount++
	a.lastSent = now
	return true
}

func (a *Alerter) send(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
