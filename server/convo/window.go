// Package convo maintains the per-session rolling context window: the last N
// messages plus lightweight derived signals (topic, sentiment trend).
package convo

import (
	"time"
)

// Message is one conversation message. Immutable once created.
type Message struct {
	SessionID string
	Sender    string
	Text      string
	Sequence  int64
	ArrivedAt time.Time
}

// Snapshot is an immutable copy of the window for concurrent reads by a
// synthesis cycle while new messages keep arriving.
type Snapshot struct {
	Messages       []Message
	Topic          string
	SentimentTrend string
}

// Latest returns the most recent message, or a zero Message when empty.
func (s Snapshot) Latest() Message {
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// Window is a bounded rolling buffer of recent messages. It is exclusively
// owned by its session's task and is not safe for concurrent mutation; other
// components read it through Snapshot.
type Window struct {
	capacity int
	messages []Message

	// Per-message topic contributions, parallel to messages, so evicting a
	// message decrements exactly what it added. Keeps Append O(1) amortized
	// instead of rescanning the window.
	contributions []map[string]int
	topicCounts   map[string]int

	sentiment sentimentTracker
}

// NewWindow creates a window holding at most capacity messages.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 20
	}
	return &Window{
		capacity:    capacity,
		topicCounts: make(map[string]int),
	}
}

// Append adds a message, evicting the oldest when full, and incrementally
// updates the derived signals.
func (w *Window) Append(msg Message) {
	if len(w.messages) == w.capacity {
		evicted := w.contributions[0]
		w.messages = w.messages[1:]
		w.contributions = w.contributions[1:]
		for topic, n := range evicted {
			w.topicCounts[topic] -= n
			if w.topicCounts[topic] <= 0 {
				delete(w.topicCounts, topic)
			}
		}
	}

	contribution := topicHits(msg.Text)
	for topic, n := range contribution {
		w.topicCounts[topic] += n
	}

	w.messages = append(w.messages, msg)
	w.contributions = append(w.contributions, contribution)
	w.sentiment.observe(msg.Text)
}

// Len returns the number of buffered messages.
func (w *Window) Len() int {
	return len(w.messages)
}

// Topic returns the dominant topic label, or "general" when nothing matches.
func (w *Window) Topic() string {
	best, bestCount := "general", 0
	for topic, n := range w.topicCounts {
		if n > bestCount || (n == bestCount && topic < best) {
			best, bestCount = topic, n
		}
	}
	if bestCount == 0 {
		return "general"
	}
	return best
}

// SentimentTrend returns "improving", "steady" or "declining".
func (w *Window) SentimentTrend() string {
	return w.sentiment.trend()
}

// Snapshot returns an immutable copy of the window and its signals.
func (w *Window) Snapshot() Snapshot {
	messages := make([]Message, len(w.messages))
	copy(messages, w.messages)
	return Snapshot{
		Messages:       messages,
		Topic:          w.Topic(),
		SentimentTrend: w.SentimentTrend(),
	}
}
