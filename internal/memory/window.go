package memory

import "sync"

const (
	// DefaultTrimThreshold is the window size that triggers a trim.
	DefaultTrimThreshold = 20

	// DefaultKeepAfterTrim is how many recent messages survive a trim.
	DefaultKeepAfterTrim = 10
)

// WindowConfig bounds the short-term conversation window.
type WindowConfig struct {
	TrimThreshold int
	KeepAfterTrim int
}

// ApplyDefaults fills in zero-valued fields.
func (c *WindowConfig) ApplyDefaults() {
	if c.TrimThreshold <= 0 {
		c.TrimThreshold = DefaultTrimThreshold
	}
	if c.KeepAfterTrim <= 0 {
		c.KeepAfterTrim = DefaultKeepAfterTrim
	}
}

// Window is a bounded short-term message buffer for one session.
//
// When the window exceeds TrimThreshold, the oldest messages are removed
// until KeepAfterTrim remain; the kept suffix is then advanced so it
// starts on a human message, keeping question/answer pairs intact. The
// removed prefix is returned from Append for archival.
type Window struct {
	mu       sync.Mutex
	config   WindowConfig
	messages []Message
}

// NewWindow creates an empty window.
func NewWindow(cfg WindowConfig) *Window {
	cfg.ApplyDefaults()
	return &Window{config: cfg}
}

// Restore replaces the window contents, applying the trim rule. Used when
// loading a session from the checkpoint store.
func (w *Window) Restore(messages []Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append([]Message(nil), messages...)
	w.trimLocked()
}

// Append adds a message and returns any messages evicted by the trim
// rule, oldest first.
func (w *Window) Append(msg Message) []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	return w.trimLocked()
}

// Messages returns a copy of the current window contents.
func (w *Window) Messages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Message(nil), w.messages...)
}

// Len returns the number of messages currently in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

func (w *Window) trimLocked() []Message {
	if len(w.messages) <= w.config.TrimThreshold {
		return nil
	}

	cut := len(w.messages) - w.config.KeepAfterTrim

	// Advance the cut so the kept suffix starts on a human message;
	// an assistant message without its question is useless context.
	for cut < len(w.messages) && w.messages[cut].Role != RoleHuman {
		cut++
	}

	evicted := append([]Message(nil), w.messages[:cut]...)
	w.messages = append([]Message(nil), w.messages[cut:]...)
	return evicted
}
