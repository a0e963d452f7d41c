package advertiser

import "time"

const (
	// ProbeInterval separates the probes and the first announcement.
	ProbeInterval = 250 * time.Millisecond
	// AnnounceInterval separates the two announcements.
	AnnounceInterval = time.Second
)

// RefreshInterval is how long announced records go before they are sent again,
// shortly before peers would let them expire.
func RefreshInterval(ttl uint32) time.Duration {
	return time.Duration(ttl) * time.Second * 95 / 100
}

// Status is the position of an advertisement in the probe and announce sequence.
type Status int

const (
	Idle Status = iota
	Probing1
	Probing2
	Probing3
	Announcing // first announcement sent, the repeat is pending
	Announced
	Conflict
	Stopped
)

var statusNames = [...]string{"idle", "probing1", "probing2", "probing3", "announcing", "announced", "conflict", "stopped"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Probing reports whether s is one of the probe states.
func (s Status) Probing() bool { return s >= Probing1 && s <= Probing3 }

// Published reports whether the records of the advertisement have been sent.
func (s Status) Published() bool { return s == Announcing || s == Announced }

// Event drives the state machine.
type Event int

const (
	EventStart Event = iota
	EventTick
	EventConflict
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventTick:
		return "tick"
	case EventConflict:
		return "conflict"
	case EventStop:
		return "stop"
	}
	return "unknown"
}

// Action is the side effect the driver performs on a transition.
type Action int

const (
	ActionNone Action = iota
	ActionProbe
	ActionAnnounce
	ActionRename
	ActionGoodbye
)

// Transition is the result of Step. Delay is the time until the next EventTick;
// zero means no tick is scheduled. Refresh schedules the tick after the
// RefreshInterval of the advertisement's TTL instead.
type Transition struct {
	Next    Status
	Action  Action
	Delay   time.Duration
	Refresh bool
}

// Step returns the transition for event e in status s. A transition with
// Next == s and no action leaves the advertisement untouched.
func Step(s Status, e Event) Transition {
	unchanged := Transition{Next: s}

	switch e {
	case EventStart:
		if s == Idle || s == Stopped {
			return Transition{Next: Probing1, Action: ActionProbe, Delay: ProbeInterval}
		}
	case EventTick:
		switch s {
		case Probing1:
			return Transition{Next: Probing2, Action: ActionProbe, Delay: ProbeInterval}
		case Probing2:
			return Transition{Next: Probing3, Action: ActionProbe, Delay: ProbeInterval}
		case Probing3:
			return Transition{Next: Announcing, Action: ActionAnnounce, Delay: AnnounceInterval}
		case Announcing, Announced:
			return Transition{Next: Announced, Action: ActionAnnounce, Refresh: true}
		case Conflict:
			return Transition{Next: Probing1, Action: ActionProbe, Delay: ProbeInterval}
		}
	case EventConflict:
		if s.Probing() {
			return Transition{Next: Conflict, Action: ActionRename, Delay: ProbeInterval}
		}
	case EventStop:
		switch {
		case s.Published():
			return Transition{Next: Stopped, Action: ActionGoodbye}
		case s != Stopped:
			return Transition{Next: Stopped}
		}
	}
	return unchanged
}

// Changed reports whether t does anything when applied in status s.
func (t Transition) Changed(s Status) bool {
	return t.Next != s || t.Action != ActionNone
}
