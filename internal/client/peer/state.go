package peer

// State is the lifecycle of one link as seen by the application.
type State int

const (
	Idle State = iota
	Offering
	Answering
	Connected
	Reconnecting
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether an offer/answer exchange is in flight.
func (s State) Negotiating() bool { return s == Offering || s == Answering }

// Terminal states never change again.
func (s State) Terminal() bool { return s == Closed || s == Failed }
