package chatclient

import (
	"sync"
	"time"
)

// QuietWindow is how long a user may pause before they stop counting as
// typing.
const QuietWindow = 2 * time.Second

// TypingEmitter sends typing signals for a room.
type TypingEmitter interface {
	Typing(roomID string) error
	StopTyping(roomID string) error
}

type stopper interface {
	Stop() bool
}

// TypingNotifier turns keystrokes into typing and stop_typing signals.
// The first keystroke of a burst sends typing; stop_typing follows once the
// input has been quiet for the window, or at once when the user sends or
// switches rooms.
type TypingNotifier struct {
	emitter TypingEmitter
	window  time.Duration
	after   func(time.Duration, func()) stopper

	mu     sync.Mutex
	roomID string
	timer  stopper
	gen    uint64
}

func NewTypingNotifier(emitter TypingEmitter, window time.Duration) *TypingNotifier {
	if window <= 0 {
		window = QuietWindow
	}
	return &TypingNotifier{
		emitter: emitter,
		window:  window,
		after: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Keystroke records input for roomID and pushes the quiet deadline out.
func (n *TypingNotifier) Keystroke(roomID string) error {
	n.mu.Lock()
	var previous string
	if n.roomID != "" && n.roomID != roomID {
		previous = n.roomID
	}
	starting := n.roomID != roomID
	if n.timer != nil {
		n.timer.Stop()
	}
	n.roomID = roomID
	n.gen++
	gen := n.gen
	n.timer = n.after(n.window, func() { n.expire(gen) })
	n.mu.Unlock()

	if previous != "" {
		if err := n.emitter.StopTyping(previous); err != nil {
			return err
		}
	}
	if starting {
		return n.emitter.Typing(roomID)
	}
	return nil
}

// Stop ends the current burst right away, e.g. when the message is sent.
func (n *TypingNotifier) Stop() error {
	n.mu.Lock()
	roomID := n.clear()
	n.mu.Unlock()

	if roomID == "" {
		return nil
	}
	return n.emitter.StopTyping(roomID)
}

// Active reports the room of the current burst, if any.
func (n *TypingNotifier) Active() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roomID, n.roomID != ""
}

func (n *TypingNotifier) expire(gen uint64) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	roomID := n.clear()
	n.mu.Unlock()

	if roomID != "" {
		_ = n.emitter.StopTyping(roomID)
	}
}

// clear must be called with mu held.
func (n *TypingNotifier) clear() string {
	roomID := n.roomID
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.roomID = ""
	n.gen++
	return roomID
}
