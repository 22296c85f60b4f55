package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/telemetry"
)

// Notifier posts operator alerts to a Discord webhook. An empty URL
// disables it.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	timeout    time.Duration
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		timeout:    10 * time.Second,
	}
}

func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

func (n *Notifier) SendEmbed(ctx context.Context, embed Embed) error {
	if embed.Timestamp == "" {
		embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return n.send(ctx, webhookPayload{Embeds: []Embed{embed}})
}

func (n *Notifier) send(ctx context.Context, payload webhookPayload) error {
	if !n.Enabled() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.Warnf("discord: rate limited")
		return fmt.Errorf("discord rate limited")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook: status=%d", resp.StatusCode)
	}
	return nil
}

const (
	ColorRed    = 0xE74C3C
	ColorYellow = 0xF1C40F
)

// Attach alerts on score discrepancies and incomplete batch saves. Posts
// run on their own goroutine so the publisher never waits on Discord.
func (n *Notifier) Attach(bus *events.Bus) {
	if !n.Enabled() {
		return
	}
	bus.Subscribe(func(e events.Event) error {
		embed, ok := alertFor(e)
		if !ok {
			return nil
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := n.SendEmbed(ctx, embed); err != nil {
				telemetry.Warnf("discord: %s alert for %s: %v", e.Type, e.FixtureID, err)
			}
		}()
		return nil
	}, events.EventScoreVerified, events.EventBatchSaved)
}

func alertFor(e events.Event) (Embed, bool) {
	switch p := e.Payload.(type) {
	case events.ScoreVerified:
		if p.InSync {
			return Embed{}, false
		}
		return ScoreMismatch(e.FixtureID, p), true
	case events.BatchSaved:
		if p.OK {
			return Embed{}, false
		}
		return SaveIncomplete(e.FixtureID, p), true
	}
	return Embed{}, false
}

func ScoreMismatch(fixtureID string, p events.ScoreVerified) Embed {
	return Embed{
		Title:       "Score mismatch",
		Description: p.Message,
		Color:       ColorYellow,
		Fields: []Field{
			{Name: "Fixture", Value: fixtureID, Inline: true},
			{Name: "Stored", Value: fmt.Sprintf("%d-%d", p.FixtureHome, p.FixtureAway), Inline: true},
			{Name: "Events", Value: fmt.Sprintf("%d-%d", p.EventsHome, p.EventsAway), Inline: true},
		},
	}
}

func SaveIncomplete(fixtureID string, p events.BatchSaved) Embed {
	failures := "none"
	if len(p.Failures) > 0 {
		failures = strings.Join(p.Failures, "\n")
	}
	return Embed{
		Title: "Batch save incomplete",
		Color: ColorRed,
		Fields: []Field{
			{Name: "Fixture", Value: fixtureID, Inline: true},
			{Name: "Saved", Value: fmt.Sprintf("%d goals, %d cards, %d players", p.Goals, p.Cards, p.PlayerTimes), Inline: true},
			{Name: "Failures", Value: failures, Inline: false},
		},
	}
}
