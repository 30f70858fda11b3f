package chatlog

import (
	"sort"
	"time"
)

// ToolCall is an in-flight tool call. MessageID is zero until the call has been written.
type ToolCall struct {
	ID        string
	Name      string
	Input     string
	MessageID int64
	Order     int64
	// streamed is set once input arrived through tool-input deltas.
	streamed bool
}

// TextSpan is the buffered text of one text-start/text-end span. MessageID is zero until
// the first successful write.
type TextSpan struct {
	MessageID int64
	Order     int64
	Text      string
}

// State is the accumulator threaded through the router. Handlers never modify the State
// they are given; they return a new one.
type State struct {
	ChatID string
	// TurnID is zero when no turn row exists.
	TurnID int64
	// MessageID is the id of the most recently opened text message, zero when none is open.
	MessageID int64
	// CurrentMessageOrder is the highest ordinal this state has consumed. The allocator's
	// counter is the authority; a recorded prompt takes ordinal 1 before any chunk runs.
	CurrentMessageOrder int64
	GeneratedText       string
	GeneratedJSON       string
	ToolCalls           map[string]ToolCall
	TextSpans           map[string]TextSpan
	Warnings            []string
	Errors              []string
	ResponseModel       string
	TurnStartedAt       time.Time
	// Finished is set once the turn row has reached a terminal status.
	Finished bool
	// Success reports whether the last step persisted everything it meant to.
	Success bool
}

// Clone returns a deep copy. Nil maps and slices stay nil.
func (s State) Clone() State {
	out := s
	if s.ToolCalls != nil {
		out.ToolCalls = make(map[string]ToolCall, len(s.ToolCalls))
		for k, v := range s.ToolCalls {
			out.ToolCalls[k] = v
		}
	}
	if s.TextSpans != nil {
		out.TextSpans = make(map[string]TextSpan, len(s.TextSpans))
		for k, v := range s.TextSpans {
			out.TextSpans[k] = v
		}
	}
	if s.Warnings != nil {
		out.Warnings = append([]string(nil), s.Warnings...)
	}
	if s.Errors != nil {
		out.Errors = append([]string(nil), s.Errors...)
	}
	return out
}

// HasTurn reports whether chunks can be attributed to a turn.
func (s State) HasTurn() bool {
	return s.ChatID != "" && s.TurnID > 0
}

func (s *State) setToolCall(tc ToolCall) {
	if s.ToolCalls == nil {
		s.ToolCalls = make(map[string]ToolCall)
	}
	s.ToolCalls[tc.ID] = tc
}

func (s *State) setSpan(id string, span TextSpan) {
	if s.TextSpans == nil {
		s.TextSpans = make(map[string]TextSpan)
	}
	s.TextSpans[id] = span
}

// advanceOrder moves the order counter past an allocated ordinal.
func (s *State) advanceOrder(allocated int64) {
	s.CurrentMessageOrder = max(s.CurrentMessageOrder+1, allocated)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
