package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed colors per event, in Discord's decimal RGB form. Halting events are
// red, degraded-but-trading events orange.
const (
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorYellow = 0xF1C40F
	colorGrey   = 0x95A5A6
)

func eventColor(event string) int {
	switch event {
	case EventReconcileMismatch, EventCoinPaused:
		return colorRed
	case EventPendingFailed:
		return colorOrange
	case EventVenueDisconnected:
		return colorYellow
	default:
		return colorGrey
	}
}

// DiscordSender delivers alerts via a Discord webhook as rich embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the Discord webhook as a single embed. Alert fields
// become inline embed fields so coin, venue, and amount line up in columns.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	embed := map[string]any{
		"title":       a.Title,
		"description": a.Message,
		"color":       eventColor(a.Event),
	}
	if !a.Time.IsZero() {
		embed["timestamp"] = a.Time.Format(time.RFC3339)
	}
	if len(a.Fields) > 0 {
		fields := make([]map[string]any, 0, len(a.Fields))
		for _, f := range a.Fields {
			fields = append(fields, map[string]any{
				"name":   f.Key,
				"value":  f.Value,
				"inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
