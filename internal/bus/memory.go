// Package bus provides an in-process SignalBus used when Redis is disabled.
// Paper and monitor deployments get the same pub/sub and stream semantics
// without an external dependency; fan-out stays within the process.
package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lczhang/crossarb/internal/domain"
)

const subscriberBuffer = 128

// Memory is a channel-backed SignalBus. Slow subscribers drop messages
// rather than blocking publishers, matching the Redis pub/sub contract.
type Memory struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  int64
	maxLen  int
}

// NewMemory creates a Memory bus. maxLen bounds each stream's retained
// entries; non-positive values default to 10000.
func NewMemory(maxLen int) *Memory {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Memory{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every live subscriber of channel.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := make([]chan []byte, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// Subscriber buffer full; drop for this subscriber.
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. The channel
// is closed and removed when ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		live := m.subs[channel]
		for i, c := range live {
			if c == ch {
				m.subs[channel] = append(live[:i], live[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend records payload in the named stream, trimming to maxLen.
func (m *Memory) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entries := append(m.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", m.nextID),
		Payload: payload,
	})
	if len(entries) > m.maxLen {
		entries = entries[len(entries)-m.maxLen:]
	}
	m.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with IDs strictly greater than
// lastID. Pass "0" to read from the beginning.
func (m *Memory) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := parseStreamID(lastID)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.StreamMessage
	for _, msg := range m.streams[stream] {
		if parseStreamID(msg.ID) <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// parseStreamID extracts the sequence part of an "N-0" stream ID. Malformed
// IDs read as zero so iteration starts from the beginning.
func parseStreamID(id string) int64 {
	seq, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
