package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	sent []Alert
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, a Alert) error {
	if f.fail {
		return errors.New("boom")
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventPendingFailed}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventCoinPaused, "paused", "detail"))
	require.Empty(t, s.sent)

	require.NoError(t, n.Notify(context.Background(), EventPendingFailed, "pending failed", "detail"))
	require.Len(t, s.sent, 1)
	require.Equal(t, "pending failed", s.sent[0].Title)
	require.Equal(t, EventPendingFailed, s.sent[0].Event)
}

func TestNotifyCarriesFields(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventPendingFailed, "pending failed", "detail",
		Field{Key: "coin", Value: "BTC"},
		Field{Key: "buy_venue", Value: "alpha"},
	))
	require.Len(t, s.sent, 1)
	require.Equal(t, []Field{
		{Key: "coin", Value: "BTC"},
		{Key: "buy_venue", Value: "alpha"},
	}, s.sent[0].Fields)
	require.False(t, s.sent[0].Time.IsZero())
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventVenueDisconnected, "venue down", "beta"))
	require.Len(t, s.sent, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
	require.Len(t, good.sent, 1)
}

func TestNotifyNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
}

func TestDiscordSendsEmbedWithFields(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
			Fields      []struct {
				Name   string `json:"name"`
				Value  string `json:"value"`
				Inline bool   `json:"inline"`
			} `json:"fields"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	err := d.Send(context.Background(), Alert{
		Event:   EventReconcileMismatch,
		Title:   "Trading halted",
		Message: "drift exceeds tolerance",
		Fields:  []Field{{Key: "drift", Value: "0.0512"}},
		Time:    time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, payload.Embeds, 1)
	emb := payload.Embeds[0]
	require.Equal(t, "Trading halted", emb.Title)
	require.Equal(t, "drift exceeds tolerance", emb.Description)
	require.Equal(t, colorRed, emb.Color)
	require.Len(t, emb.Fields, 1)
	require.Equal(t, "drift", emb.Fields[0].Name)
	require.Equal(t, "0.0512", emb.Fields[0].Value)
	require.True(t, emb.Fields[0].Inline)
}

func TestTelegramRendersFieldsAsLines(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramSender("tok", "chat42")
	tg.apiBase = srv.URL
	err := tg.Send(context.Background(), Alert{
		Event:   EventPendingFailed,
		Title:   "Pending order failed",
		Message: "legs cancelled",
		Fields: []Field{
			{Key: "coin", Value: "ETH"},
			{Key: "amount", Value: "1.5000"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, "chat42", payload["chat_id"])
	require.Equal(t, "Markdown", payload["parse_mode"])
	require.Equal(t, "*Pending order failed*\nlegs cancelled\ncoin: `ETH`\namount: `1.5000`", payload["text"])
}
