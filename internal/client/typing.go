package client

import (
	"sync"
	"time"
)

// typingIdle is how long after the last keystroke a stop signal is emitted.
const typingIdle = 2 * time.Second

// typingSignaler turns a stream of keystrokes into typing/stop-typing
// signals. The first keystroke for a conversation emits a typing signal and
// arms a timer; every further keystroke resets it; when it fires a stop
// signal is emitted. Signals are ephemeral and never persisted.
type typingSignaler struct {
	mu     sync.Mutex
	idle   time.Duration
	timers map[string]*time.Timer
	emit   func(to string, isGroup, stop bool)
}

func newTypingSignaler(emit func(to string, isGroup, stop bool)) *typingSignaler {
	return &typingSignaler{
		idle:   typingIdle,
		timers: make(map[string]*time.Timer),
		emit:   emit,
	}
}

// keystroke registers input for a conversation.
func (ts *typingSignaler) keystroke(to string, isGroup bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if timer, ok := ts.timers[to]; ok {
		timer.Reset(ts.idle)
		return
	}

	ts.emit(to, isGroup, false)
	ts.timers[to] = time.AfterFunc(ts.idle, func() {
		ts.mu.Lock()
		delete(ts.timers, to)
		ts.mu.Unlock()

		ts.emit(to, isGroup, true)
	})
}

// stopAll cancels every pending timer without emitting stop signals; used on
// disconnect.
func (ts *typingSignaler) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for to, timer := range ts.timers {
		timer.Stop()
		delete(ts.timers, to)
	}
}
