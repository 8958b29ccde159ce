package continuity

import (
	"encoding/json"
	"fmt"

	"github.com/harunnryd/larung/pkg/media"
)

// CallSession is the hand-off checkpoint between work units. It is the
// entire state a successor needs: everything else is re-derived from the
// streams themselves.
type CallSession struct {
	CallID         string                              `json:"callId"`
	WorkUnit       int                                 `json:"workUnit"`
	ChannelSources map[media.Role]string               `json:"channelSources,omitempty"`
	SessionID      string                              `json:"recognitionSessionId,omitempty"`
	LastFragment   map[media.Role]media.FragmentMarker `json:"lastFragment,omitempty"`
	FromParty      string                              `json:"fromParty,omitempty"`
	ToParty        string                              `json:"toParty,omitempty"`
}

// NewCallSession builds the first work unit's descriptor.
func NewCallSession(callID string) CallSession {
	return CallSession{CallID: callID, WorkUnit: 1}
}

// Successor derives the next unit's descriptor from the current one.
func (s CallSession) Successor() CallSession {
	next := s
	next.WorkUnit = s.WorkUnit + 1
	next.LastFragment = make(map[media.Role]media.FragmentMarker, len(s.LastFragment))
	for role, marker := range s.LastFragment {
		next.LastFragment[role] = marker
	}
	return next
}

// Continuation reports whether this unit resumes an earlier one.
func (s CallSession) Continuation() bool { return s.WorkUnit > 1 }

// Encode serializes the descriptor for the relaunch payload.
func (s CallSession) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses a relaunch payload.
func DecodeSession(data []byte) (CallSession, error) {
	var s CallSession
	if err := json.Unmarshal(data, &s); err != nil {
		return CallSession{}, fmt.Errorf("decode call session: %w", err)
	}
	if s.CallID == "" {
		return CallSession{}, fmt.Errorf("call session missing callId")
	}
	if s.WorkUnit <= 0 {
		s.WorkUnit = 1
	}
	return s, nil
}
