package eventbus

import "time"

// Timer lifecycle event types published by the scheduler.
const (
	TimerCreated  = "timer.created"
	TimerFired    = "timer.fired"
	TimerFailed   = "timer.failed"
	TimerCanceled = "timer.canceled"
	TimerExpired  = "timer.expired"
	TimerRestored = "timer.restored"
)

// TimerEvent is the Data of timer.* events.
type TimerEvent struct {
	Owner   string    `json:"owner"`
	TimerID string    `json:"timer_id"`
	Kind    string    `json:"kind"`
	State   string    `json:"state"`
	Next    time.Time `json:"next,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// WaitFor reads ch until an event of type typ for timer id arrives or the
// timeout passes.
func WaitFor(ch <-chan Event, typ, id string, timeout time.Duration) (Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return Event{}, false
			}
			if e.Type != typ {
				continue
			}
			if te, ok := e.Data.(TimerEvent); ok && (id == "" || te.TimerID == id) {
				return e, true
			}
		case <-deadline.C:
			return Event{}, false
		}
	}
}
