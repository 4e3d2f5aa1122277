// Package alerts delivers watchdog events to users over email, Telegram,
// and webhooks according to per-alert trigger filters and cooldowns.
package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketgate/marketgate/internal/events"
)

// DeliveryMethod names one delivery channel
type DeliveryMethod string

const (
	DeliveryEmail    DeliveryMethod = "email"
	DeliveryTelegram DeliveryMethod = "telegram"
	DeliveryWebhook  DeliveryMethod = "webhook"
)

// EmailConfig configures SMTP delivery for one alert
type EmailConfig struct {
	Recipients []string `yaml:"recipients" json:"recipients"`
	Subject    string   `yaml:"subject" json:"subject,omitempty"`
}

// TelegramConfig configures bot delivery for one alert
type TelegramConfig struct {
	ChatIDs []int64 `yaml:"chat_ids" json:"chat_ids"`
}

// WebhookConfig configures HTTP delivery for one alert
type WebhookConfig struct {
	URL         string `yaml:"url" json:"url"`
	Method      string `yaml:"method" json:"method,omitempty"`
	BearerToken string `yaml:"bearer_token" json:"-"`
}

// AlertConfig is one user alert definition
type AlertConfig struct {
	ID              string           `json:"alert_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Enabled         bool             `json:"enabled"`
	Trigger         events.Filter    `json:"trigger"`
	DeliveryMethods []DeliveryMethod `json:"delivery_methods"`
	Email           *EmailConfig     `json:"email_config,omitempty"`
	Telegram        *TelegramConfig  `json:"telegram_config,omitempty"`
	Webhook         *WebhookConfig   `json:"webhook_config,omitempty"`
	CooldownSeconds int              `json:"cooldown_seconds"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	LastTriggered   *time.Time       `json:"last_triggered,omitempty"`
	TriggerCount    int64            `json:"trigger_count"`
}

// Validate checks that an alert definition is deliverable
func (a *AlertConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("alert name is required")
	}
	if len(a.DeliveryMethods) == 0 {
		return fmt.Errorf("alert needs at least one delivery method")
	}
	for _, m := range a.DeliveryMethods {
		switch m {
		case DeliveryEmail:
			if a.Email == nil || len(a.Email.Recipients) == 0 {
				return fmt.Errorf("email delivery requires recipients")
			}
		case DeliveryTelegram:
			if a.Telegram == nil || len(a.Telegram.ChatIDs) == 0 {
				return fmt.Errorf("telegram delivery requires chat ids")
			}
		case DeliveryWebhook:
			if a.Webhook == nil || a.Webhook.URL == "" {
				return fmt.Errorf("webhook delivery requires a url")
			}
		default:
			return fmt.Errorf("unknown delivery method: %s", m)
		}
	}
	return nil
}

// Store is the in-process alert repository. Snapshots are copies so
// callers can't mutate stored state behind the engine's back.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*AlertConfig
}

// NewStore creates an empty alert store
func NewStore() *Store {
	return &Store{alerts: make(map[string]*AlertConfig)}
}

// Create validates and stores an alert, assigning an id when absent
func (s *Store) Create(alert AlertConfig) (*AlertConfig, error) {
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	now := time.Now()
	alert.CreatedAt = now
	alert.UpdatedAt = now
	alert.LastTriggered = nil
	alert.TriggerCount = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return nil, fmt.Errorf("alert already exists: %s", alert.ID)
	}
	s.alerts[alert.ID] = &alert

	snapshot := alert
	return &snapshot, nil
}

// Get returns a copy of one alert
func (s *Store) Get(id string) (*AlertConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert not found: %s", id)
	}
	snapshot := *alert
	return &snapshot, nil
}

// List returns copies of all alerts sorted by creation time
func (s *Store) List() []*AlertConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AlertConfig, 0, len(s.alerts))
	for _, alert := range s.alerts {
		snapshot := *alert
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update replaces an alert's definition, preserving trigger history
func (s *Store) Update(id string, alert AlertConfig) (*AlertConfig, error) {
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert not found: %s", id)
	}

	alert.ID = id
	alert.CreatedAt = existing.CreatedAt
	alert.UpdatedAt = time.Now()
	alert.LastTriggered = existing.LastTriggered
	alert.TriggerCount = existing.TriggerCount
	s.alerts[id] = &alert

	snapshot := alert
	return &snapshot, nil
}

// Delete removes an alert
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return fmt.Errorf("alert not found: %s", id)
	}
	delete(s.alerts, id)
	return nil
}

// SetEnabled toggles an alert
func (s *Store) SetEnabled(id string, enabled bool) (*AlertConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert not found: %s", id)
	}
	alert.Enabled = enabled
	alert.UpdatedAt = time.Now()

	snapshot := *alert
	return &snapshot, nil
}

// markTriggered applies the cooldown gate and, when it passes, stamps
// the trigger. Returns false when the alert is disabled, unknown, or
// still cooling down.
func (s *Store) markTriggered(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok || !alert.Enabled {
		return false
	}
	if alert.LastTriggered != nil && alert.CooldownSeconds > 0 {
		cooldown := time.Duration(alert.CooldownSeconds) * time.Second
		if at.Sub(*alert.LastTriggered) < cooldown {
			return false
		}
	}

	stamp := at
	alert.LastTriggered = &stamp
	alert.TriggerCount++
	return true
}
