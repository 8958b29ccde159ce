// Package recognition drives one streaming speech-to-text session per work
// unit and classifies its results into pipeline events.
package recognition

import (
	"time"

	"github.com/harunnryd/larung/pkg/media"
)

type ResultKind string

const (
	ResultTranscript   ResultKind = "transcript"
	ResultUtteranceEnd ResultKind = "utterance_end"
	ResultSessionMeta  ResultKind = "session_meta"
)

// Result is one item from the recognition session's ordered result stream.
type Result interface {
	Kind() ResultKind
}

// Transcript is one recognition unit for one channel. Partial transcripts
// for a segment id are superseded by later results; a final one never is.
type Transcript struct {
	Channel   media.Role
	SegmentID string
	Start     time.Duration
	End       time.Duration
	Text      string
	IsFinal   bool
}

func (Transcript) Kind() ResultKind { return ResultTranscript }

// UtteranceEnd marks the service's end-of-utterance detection.
type UtteranceEnd struct {
	Channel media.Role
	At      time.Duration
}

func (UtteranceEnd) Kind() ResultKind { return ResultUtteranceEnd }

// SessionMeta carries the service-assigned session id.
type SessionMeta struct {
	SessionID string
}

func (SessionMeta) Kind() ResultKind { return ResultSessionMeta }
