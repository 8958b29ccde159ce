// Package events defines the ordered records the pipeline emits about a
// call: transcript segments, lifecycle transitions, category matches and
// recording locations.
package events

import (
	"time"

	"github.com/harunnryd/larung/pkg/media"
)

type Kind string

const (
	KindTranscript        Kind = "transcript_segment"
	KindLifecycle         Kind = "lifecycle"
	KindCategoryMatch     Kind = "category_match"
	KindRecordingReady    Kind = "recording_ready"
	KindSessionConfigured Kind = "session_configured"
	KindUtterance         Kind = "utterance"
)

// Phase is a call lifecycle transition.
type Phase string

const (
	PhaseStart    Phase = "START"
	PhaseContinue Phase = "CONTINUE"
	PhaseEnd      Phase = "END"
	PhaseError    Phase = "ERROR"
)

// Record is one append-only event. Every record carries its call id and
// creation time; the log preserves append order per call.
type Record interface {
	Kind() Kind
	Call() string
	Created() time.Time
}

// TranscriptSegment is one recognition unit for one channel. Partial
// segments are superseded by later records with the same SegmentID; final
// segments are never retracted.
type TranscriptSegment struct {
	CallID    string        `json:"call_id"`
	Channel   media.Role    `json:"channel"`
	SegmentID string        `json:"segment_id"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Text      string        `json:"text"`
	IsPartial bool          `json:"is_partial"`
	CreatedAt time.Time     `json:"created_at"`
}

func (e TranscriptSegment) Kind() Kind         { return KindTranscript }
func (e TranscriptSegment) Call() string       { return e.CallID }
func (e TranscriptSegment) Created() time.Time { return e.CreatedAt }

// Lifecycle marks a call phase transition. Start and End carry the calling
// parties when known.
type Lifecycle struct {
	CallID    string    `json:"call_id"`
	Phase     Phase     `json:"phase"`
	FromParty string    `json:"from_party,omitempty"`
	ToParty   string    `json:"to_party,omitempty"`
	WorkUnit  int       `json:"work_unit"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e Lifecycle) Kind() Kind         { return KindLifecycle }
func (e Lifecycle) Call() string       { return e.CallID }
func (e Lifecycle) Created() time.Time { return e.CreatedAt }

// CategoryMatch records a category rule firing over a transcript range.
type CategoryMatch struct {
	CallID    string        `json:"call_id"`
	Category  string        `json:"category"`
	RuleID    string        `json:"rule_id"`
	Channel   media.Role    `json:"channel"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	CreatedAt time.Time     `json:"created_at"`
}

func (e CategoryMatch) Kind() Kind         { return KindCategoryMatch }
func (e CategoryMatch) Call() string       { return e.CallID }
func (e CategoryMatch) Created() time.Time { return e.CreatedAt }

// RecordingReady points at the merged final recording artifact.
type RecordingReady struct {
	CallID    string    `json:"call_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func (e RecordingReady) Kind() Kind         { return KindRecordingReady }
func (e RecordingReady) Call() string       { return e.CallID }
func (e RecordingReady) Created() time.Time { return e.CreatedAt }

// UtteranceBoundary marks the recognition service's end-of-utterance
// detection for one channel.
type UtteranceBoundary struct {
	CallID    string        `json:"call_id"`
	Channel   media.Role    `json:"channel"`
	At        time.Duration `json:"at"`
	CreatedAt time.Time     `json:"created_at"`
}

func (e UtteranceBoundary) Kind() Kind         { return KindUtterance }
func (e UtteranceBoundary) Call() string       { return e.CallID }
func (e UtteranceBoundary) Created() time.Time { return e.CreatedAt }

// SessionConfigured is the one-time record describing the recognition
// session's channel mapping and options.
type SessionConfigured struct {
	CallID       string                `json:"call_id"`
	SessionID    string                `json:"session_id"`
	ChannelRoles map[int]media.Role    `json:"channel_roles"`
	RedactPII    bool                  `json:"redact_pii"`
	Vocabulary   []string              `json:"vocabulary,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func (e SessionConfigured) Kind() Kind         { return KindSessionConfigured }
func (e SessionConfigured) Call() string       { return e.CallID }
func (e SessionConfigured) Created() time.Time { return e.CreatedAt }
