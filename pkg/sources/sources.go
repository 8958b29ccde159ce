// Package sources discovers and opens the live media streams for a call's
// channels, and runs the optional per-call customization hook.
package sources

import (
	"context"
	"io"

	"github.com/harunnryd/larung/pkg/media"
)

// MediaSource opens the byte stream behind one channel's source reference.
// resumeMarker, when non-empty, asks the source to start after that fragment.
type MediaSource interface {
	Open(ctx context.Context, sourceID string, resumeMarker media.FragmentMarker) (io.ReadCloser, error)
}

// Lookup resolves a call id to the source reference of each registered
// channel. A partial map is normal while registrations are still racing in.
type Lookup interface {
	Query(ctx context.Context, callID string) (map[media.Role]string, error)
}

// PartyLookup resolves the human endpoints of a call for lifecycle events.
type PartyLookup interface {
	Parties(ctx context.Context, callID string) (from, to string, err error)
}
