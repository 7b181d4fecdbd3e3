package stream

import (
	kit "streambot/internal/transport"
)

type TransitionKind int

const (
	// TransitionStart fires when a user begins sharing while in a voice channel.
	TransitionStart TransitionKind = iota
	// TransitionStop fires when the sharing flag clears.
	TransitionStop
	// TransitionStopViaLeave fires when a user leaves voice with the sharing
	// flag still set (no flag-clear event follows).
	TransitionStopViaLeave
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionStart:
		return "start"
	case TransitionStop:
		return "stop"
	case TransitionStopViaLeave:
		return "stop_via_leave"
	default:
		return "unknown"
	}
}

// Transition is one classified presence change. ChannelID is the channel the
// transition concerns: the new channel for a start, the old one for stops.
type Transition struct {
	Kind      TransitionKind
	ChannelID string
}

// Classify maps an old/new voice state pair to zero or more transitions. The
// rules are evaluated independently; for well-formed gateway events at most
// one matches.
func Classify(old, new kit.VoiceState) []Transition {
	var out []Transition
	if !old.Streaming && new.Streaming && new.ChannelID != "" {
		out = append(out, Transition{Kind: TransitionStart, ChannelID: new.ChannelID})
	}
	if old.Streaming && !new.Streaming {
		out = append(out, Transition{Kind: TransitionStop, ChannelID: old.ChannelID})
	}
	if new.Streaming && new.ChannelID == "" && old.ChannelID != "" {
		out = append(out, Transition{Kind: TransitionStopViaLeave, ChannelID: old.ChannelID})
	}
	return out
}
