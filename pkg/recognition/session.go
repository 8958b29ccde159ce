package recognition

import (
	"context"

	"github.com/harunnryd/larung/pkg/media"
)

// Session is the contract for any streaming recognition vendor.
type Session interface {
	// Start opens the streaming connection.
	Start(ctx context.Context) error
	// SessionID returns the service-assigned id once known. Carried across
	// work-unit hand-offs so the service treats successors as one logical
	// session.
	SessionID() string
	// SendAudio pushes one packet of interleaved stereo PCM16.
	SendAudio(pcm []byte) error
	// FinishAudio closes the audio input so the service finalizes pending
	// results gracefully instead of cutting off mid-word. Results drain
	// until the provider closes the channel.
	FinishAudio() error
	// Results returns the ordered result stream.
	Results() <-chan Result
	// Close tears the session down.
	Close() error
}

// Config is vendor-agnostic session configuration.
type Config struct {
	CallID     string
	SampleRate int
	// ChannelRoles maps audio channel index to party role.
	ChannelRoles map[int]media.Role
	// PriorSessionID links this work unit to the session a predecessor
	// opened, empty for the first unit of a call.
	PriorSessionID string
	Interim        bool
	RedactPII      bool
	// Vocabulary lists domain terms the vendor should bias toward.
	Vocabulary []string
	Language   string
	Model          string
}

// Factory builds a Session for one work unit.
type Factory func(cfg Config) Session

// DefaultChannelRoles is the stereo layout the mixer produces: caller left,
// agent right.
func DefaultChannelRoles() map[int]media.Role {
	return map[int]media.Role{
		0: media.RoleCaller,
		1: media.RoleAgent,
	}
}
