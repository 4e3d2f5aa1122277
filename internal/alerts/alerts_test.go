package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/events"
)

func webhookAlert(name string) AlertConfig {
	return AlertConfig{
		Name:            name,
		Enabled:         true,
		Trigger:         events.Filter{Severities: []events.Severity{events.SeverityCritical}},
		DeliveryMethods: []DeliveryMethod{DeliveryWebhook},
		Webhook:         &WebhookConfig{URL: "https://example.com/hook"},
	}
}

func TestAlertValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AlertConfig)
		wantErr string
	}{
		{"valid webhook alert", func(*AlertConfig) {}, ""},
		{"missing name", func(a *AlertConfig) { a.Name = "" }, "name is required"},
		{"no delivery methods", func(a *AlertConfig) { a.DeliveryMethods = nil }, "at least one delivery method"},
		{
			"email without recipients",
			func(a *AlertConfig) {
				a.DeliveryMethods = []DeliveryMethod{DeliveryEmail}
				a.Email = &EmailConfig{}
			},
			"email delivery requires recipients",
		},
		{
			"telegram without chat ids",
			func(a *AlertConfig) {
				a.DeliveryMethods = []DeliveryMethod{DeliveryTelegram}
				a.Telegram = &TelegramConfig{}
			},
			"telegram delivery requires chat ids",
		},
		{
			"webhook without url",
			func(a *AlertConfig) { a.Webhook = &WebhookConfig{} },
			"webhook delivery requires a url",
		},
		{
			"unknown method",
			func(a *AlertConfig) { a.DeliveryMethods = []DeliveryMethod{"carrier-pigeon"} },
			"unknown delivery method",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := webhookAlert("price watch")
			tt.mutate(&alert)
			err := alert.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreCreate(t *testing.T) {
	s := NewStore()

	input := webhookAlert("price watch")
	stamp := time.Now()
	input.LastTriggered = &stamp
	input.TriggerCount = 99

	created, err := s.Create(input)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID, "ids are assigned on create")
	assert.Nil(t, created.LastTriggered, "trigger history starts clean")
	assert.Zero(t, created.TriggerCount)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.Create(webhookAlert(""))
	assert.Error(t, err, "invalid alerts are rejected")

	dup := webhookAlert("duplicate")
	dup.ID = created.ID
	_, err = s.Create(dup)
	assert.Error(t, err)
}

func TestStoreGetReturnsCopies(t *testing.T) {
	s := NewStore()
	created, err := s.Create(webhookAlert("price watch"))
	require.NoError(t, err)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "price watch", again.Name, "snapshots do not alias stored state")

	_, err = s.Get("nonexistent")
	assert.Error(t, err)
}

func TestStoreListSortedByCreation(t *testing.T) {
	s := NewStore()
	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Create(webhookAlert(name))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Name)
	assert.Equal(t, "second", list[1].Name)
	assert.Equal(t, "third", list[2].Name)
}

func TestStoreUpdatePreservesHistory(t *testing.T) {
	s := NewStore()
	created, err := s.Create(webhookAlert("price watch"))
	require.NoError(t, err)
	require.True(t, s.markTriggered(created.ID, time.Now()))

	replacement := webhookAlert("renamed watch")
	updated, err := s.Update(created.ID, replacement)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "renamed watch", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.NotNil(t, updated.LastTriggered, "trigger history survives updates")
	assert.Equal(t, int64(1), updated.TriggerCount)

	_, err = s.Update("nonexistent", replacement)
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	created, err := s.Create(webhookAlert("price watch"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(created.ID))
	_, err = s.Get(created.ID)
	assert.Error(t, err)
	assert.Error(t, s.Delete(created.ID))
}

func TestStoreSetEnabled(t *testing.T) {
	s := NewStore()
	created, err := s.Create(webhookAlert("price watch"))
	require.NoError(t, err)

	toggled, err := s.SetEnabled(created.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	_, err = s.SetEnabled("nonexistent", true)
	assert.Error(t, err)
}

func TestMarkTriggeredCooldown(t *testing.T) {
	s := NewStore()
	alert := webhookAlert("price watch")
	alert.CooldownSeconds = 60
	created, err := s.Create(alert)
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, s.markTriggered(created.ID, now))
	assert.False(t, s.markTriggered(created.ID, now.Add(time.Second)), "cooldown suppresses re-triggers")
	assert.True(t, s.markTriggered(created.ID, now.Add(61*time.Second)))

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TriggerCount)
}

func TestMarkTriggeredGates(t *testing.T) {
	s := NewStore()
	assert.False(t, s.markTriggered("nonexistent", time.Now()))

	created, err := s.Create(webhookAlert("price watch"))
	require.NoError(t, err)
	_, err = s.SetEnabled(created.ID, false)
	require.NoError(t, err)
	assert.False(t, s.markTriggered(created.ID, time.Now()), "disabled alerts never trigger")
}
