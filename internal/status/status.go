// Package status fans capture and pipeline state out to observers such as
// the /status websocket feed.
//
// Status is advisory telemetry: delivery is best effort, slow subscribers
// lose events, and input levels are rate limited. Nothing in the capture path
// waits on a subscriber.
package status

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// LevelInterval is the minimum spacing of level events.
	LevelInterval = 200 * time.Millisecond

	// StateInterval is the spacing of periodic full-state events.
	StateInterval = 1500 * time.Millisecond

	defaultSubscriberBuffer = 32
)

// Phase is the pipeline phase shown to the user.
type Phase string

const (
	PhaseListening Phase = "Listening"
	PhaseThinking  Phase = "Thinking"
	PhaseSpeaking  Phase = "Speaking"
	PhaseOffline   Phase = "Offline"
)

// IdlePhase is the phase to show when no utterance is being processed.
func IdlePhase(listening bool) Phase {
	if listening {
		return PhaseListening
	}
	return PhaseOffline
}

// Sink receives status updates. Implementations must not block.
type Sink interface {
	SetListening(enabled bool)
	SetPhase(p Phase)
	Level(peak int)

	// Tick is called once per capture iteration; sinks may use it to
	// republish state periodically.
	Tick()
}

// EventType discriminates [Event]s.
type EventType string

const (
	EventState      EventType = "state"
	EventLevel      EventType = "level"
	EventMessage    EventType = "message"
	EventTranscript EventType = "transcript"
)

// Event is one status update as delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	Listening bool      `json:"listening"`
	Phase     Phase     `json:"phase,omitempty"`
	Level     int       `json:"level,omitempty"`
	Role      string    `json:"role,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Broadcaster is the in-process [Sink]. It keeps the latest state and fans
// events out to subscribers.
type Broadcaster struct {
	mu        sync.Mutex
	listening bool
	phase     Phase
	level     int
	subs      map[int]chan Event
	nextID    int

	levels rate.Sometimes
	states rate.Sometimes
	now    func() time.Time
}

// NewBroadcaster returns a Broadcaster in the Offline phase.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		phase:  PhaseOffline,
		subs:   make(map[int]chan Event),
		levels: rate.Sometimes{Interval: LevelInterval},
		states: rate.Sometimes{Interval: StateInterval},
		now:    time.Now,
	}
}

var _ Sink = (*Broadcaster)(nil)

// Subscribe registers a subscriber and returns its event channel, primed with
// the current state, and a function that unsubscribes and closes it. buffer
// values below 1 select a default.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- b.stateEventLocked()
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Snapshot returns the current state as an event.
func (b *Broadcaster) Snapshot() Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateEventLocked()
}

// SetListening implements [Sink]. Changes are published immediately.
func (b *Broadcaster) SetListening(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening == enabled {
		return
	}
	b.listening = enabled
	b.publishLocked(b.stateEventLocked())
}

// SetPhase implements [Sink]. Changes are published immediately.
func (b *Broadcaster) SetPhase(p Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == p {
		return
	}
	b.phase = p
	b.publishLocked(b.stateEventLocked())
}

// Level implements [Sink]. At most one level event is published per
// [LevelInterval].
func (b *Broadcaster) Level(peak int) {
	b.mu.Lock()
	b.level = peak
	b.mu.Unlock()
	b.levels.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.publishLocked(Event{Type: EventLevel, Time: b.now(), Listening: b.listening, Level: b.level})
	})
}

// Tick republishes the full state at most once per [StateInterval]. The
// capture loop calls it every iteration so late subscribers converge.
func (b *Broadcaster) Tick() {
	b.states.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.publishLocked(b.stateEventLocked())
	})
}

// Message publishes a chat message (role "user" or "tutor").
func (b *Broadcaster) Message(role, text string) {
	b.publish(Event{Type: EventMessage, Role: role, Text: text})
}

// Transcript publishes a recognised transcript for display.
func (b *Broadcaster) Transcript(text string) {
	b.publish(Event{Type: EventTranscript, Text: text})
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev.Time = b.now()
	ev.Listening = b.listening
	ev.Phase = b.phase
	b.publishLocked(ev)
}

func (b *Broadcaster) stateEventLocked() Event {
	return Event{Type: EventState, Time: b.now(), Listening: b.listening, Phase: b.phase, Level: b.level}
}

// publishLocked delivers ev to every subscriber with room for it.
func (b *Broadcaster) publishLocked(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
