package app

import "github.com/dkeye/Huddle/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "kick"
	default:
		return "none"
	}
}

// Policy decides what happens to a participant whose send queue is full.
type Policy interface {
	OnBackPressure(p domain.Participant) BackpressureAction
}

// SimplePolicy disconnects slow consumers. A client that cannot keep up with
// signalling would otherwise build its roster from a stream with holes.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.Participant) BackpressureAction {
	return KickMember
}

// PolicyFor maps a config value to a policy.
func PolicyFor(name string) Policy {
	if name == "drop" {
		return dropPolicy{}
	}
	return SimplePolicy{}
}

type dropPolicy struct{}

func (dropPolicy) OnBackPressure(domain.Participant) BackpressureAction { return DropFrame }
