package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/events"
)

// SMTPSettings is the shared mail server configuration
type SMTPSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Deliverer sends one alert notification over one channel
type Deliverer interface {
	Deliver(ctx context.Context, alert *AlertConfig, event *events.Event) error
}

// EmailDeliverer sends HTML mail over SMTP with STARTTLS. The send is a
// blocking call; the engine's worker pool provides the offload.
type EmailDeliverer struct {
	settings SMTPSettings
}

// NewEmailDeliverer creates the SMTP deliverer
func NewEmailDeliverer(settings SMTPSettings) *EmailDeliverer {
	if settings.Port == 0 {
		settings.Port = 587
	}
	return &EmailDeliverer{settings: settings}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, alert *AlertConfig, event *events.Event) error {
	if alert.Email == nil || len(alert.Email.Recipients) == 0 {
		return fmt.Errorf("alert %s has no email recipients", alert.ID)
	}

	subject := alert.Email.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.Severity)), event.Type)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", d.settings.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(alert.Email.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody(alert, event))

	addr := net.JoinHostPort(d.settings.Host, fmt.Sprintf("%d", d.settings.Port))
	done := make(chan error, 1)
	go func() {
		done <- d.send(addr, alert.Email.Recipients, msg.Bytes())
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *EmailDeliverer) send(addr string, recipients []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: d.settings.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if d.settings.Username != "" {
		auth := smtp.PlainAuth("", d.settings.Username, d.settings.Password, d.settings.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(d.settings.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func htmlBody(alert *AlertConfig, event *events.Event) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(alert.Name))
	fmt.Fprintf(&b, "<p><strong>%s</strong> (%s)</p>", html.EscapeString(string(event.Type)), html.EscapeString(string(event.Severity)))
	if event.Asset != nil {
		fmt.Fprintf(&b, "<p>Asset: %s</p>", html.EscapeString(event.Asset.Symbol))
	}
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(event.Description))
	fmt.Fprintf(&b, "<p><small>%s · watchdog %s</small></p>",
		event.Timestamp.UTC().Format(time.RFC3339), html.EscapeString(event.WatchdogName))
	b.WriteString("</body></html>")
	return b.String()
}

// TelegramDeliverer sends one message per configured chat id. Per-chat
// failures are logged and skipped.
type TelegramDeliverer struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramDeliverer creates the Telegram deliverer from a bot token
func NewTelegramDeliverer(token string) (*TelegramDeliverer, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramDeliverer{bot: bot}, nil
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, alert *AlertConfig, event *events.Event) error {
	if alert.Telegram == nil || len(alert.Telegram.ChatIDs) == 0 {
		return fmt.Errorf("alert %s has no telegram chat ids", alert.ID)
	}

	text := telegramText(alert, event)
	delivered := 0
	for _, chatID := range alert.Telegram.ChatIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := d.bot.Send(msg); err != nil {
			log.Warn().Err(err).
				Str("alert", alert.ID).
				Int64("chat_id", chatID).
				Msg("telegram delivery failed for chat")
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("telegram delivery failed for all %d chats", len(alert.Telegram.ChatIDs))
	}
	return nil
}

func telegramText(alert *AlertConfig, event *events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(alert.Name))
	fmt.Fprintf(&b, "%s · %s\n", html.EscapeString(string(event.Type)), html.EscapeString(string(event.Severity)))
	if event.Asset != nil {
		fmt.Fprintf(&b, "Asset: %s\n", html.EscapeString(event.Asset.Symbol))
	}
	b.WriteString(html.EscapeString(event.Description))
	return b.String()
}

// WebhookDeliverer posts the event as JSON to the alert's URL
type WebhookDeliverer struct {
	client *http.Client
}

// NewWebhookDeliverer creates the webhook deliverer
func NewWebhookDeliverer(client *http.Client) *WebhookDeliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDeliverer{client: client}
}

// webhookPayload is the wire shape sent to user endpoints
type webhookPayload struct {
	AlertID   string        `json:"alert_id"`
	AlertName string        `json:"alert_name"`
	Event     *events.Event `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, alert *AlertConfig, event *events.Event) error {
	if alert.Webhook == nil || alert.Webhook.URL == "" {
		return fmt.Errorf("alert %s has no webhook url", alert.ID)
	}

	body, err := json.Marshal(webhookPayload{
		AlertID:   alert.ID,
		AlertName: alert.Name,
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}

	method := alert.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, alert.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.Webhook.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+alert.Webhook.BearerToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
