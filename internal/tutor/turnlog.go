package tutor

import (
	"sync"
	"time"
)

// Turn is one exchange between the learner and the tutor.
type Turn struct {
	// User is what the learner said.
	User string

	// Tutor is the reply that was spoken back.
	Tutor string

	// At records when the reply was produced.
	At time.Time
}

// TurnLog keeps the most recent turns of the conversation for prompt
// context. It enforces both a maximum entry count and a maximum age; entries
// that exceed either limit are evicted on every [TurnLog.Add].
//
// All methods are safe for concurrent use.
type TurnLog struct {
	mu      sync.RWMutex
	turns   []Turn
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewTurnLog creates a log that retains at most maxSize turns and forgets
// turns older than maxAge. A non-positive maxAge keeps turns indefinitely.
func NewTurnLog(maxSize int, maxAge time.Duration) *TurnLog {
	maxSize = max(maxSize, 1)
	return &TurnLog{
		turns:   make([]Turn, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends t and evicts turns beyond the size or age limit. A zero At is
// set to the current time.
func (l *TurnLog) Add(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.At.IsZero() {
		t.At = l.now()
	}
	l.turns = append(l.turns, t)
	l.evict()
}

// Recent returns up to n of the newest turns within the age window, oldest
// first.
func (l *TurnLog) Recent(n int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.cutoff()
	out := make([]Turn, 0, min(n, len(l.turns)))
	for i := len(l.turns) - 1; i >= 0 && len(out) < n; i-- {
		if !cutoff.IsZero() && l.turns[i].At.Before(cutoff) {
			break
		}
		out = append(out, l.turns[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of retained turns.
func (l *TurnLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

func (l *TurnLog) cutoff() time.Time {
	if l.maxAge <= 0 {
		return time.Time{}
	}
	return l.now().Add(-l.maxAge)
}

// evict must be called with l.mu held. Survivors are copied to a fresh
// backing array so evicted turns can be collected.
func (l *TurnLog) evict() {
	start := 0
	if cutoff := l.cutoff(); !cutoff.IsZero() {
		for start < len(l.turns) && l.turns[start].At.Before(cutoff) {
			start++
		}
	}
	keep := l.turns[start:]
	if len(keep) > l.maxSize {
		keep = keep[len(keep)-l.maxSize:]
	}
	if len(keep) < len(l.turns) {
		fresh := make([]Turn, len(keep), l.maxSize)
		copy(fresh, keep)
		l.turns = fresh
	}
}
