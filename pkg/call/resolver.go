package call

import (
	"callrec-server/pkg/errors"
	"callrec-server/pkg/platform"
)

// ResolveStream maps a tagged frame's stream id onto the identity of the
// roster participant that owns it. It is a pure function of its inputs:
// no match yields an unresolved identity with a nil error, more than one
// match is a wiring fault on the platform side and is reported as
// ambiguous alongside the unresolved identity.
func ResolveStream(roster []platform.Participant, streamID uint32) (platform.Identity, error) {
	var matched platform.Identity
	matches := 0

	for _, p := range roster {
		for _, id := range p.StreamIDs {
			if id == streamID {
				matched = p.Identity
				matches++
				break
			}
		}
	}

	switch matches {
	case 0:
		return platform.Unresolved(), nil
	case 1:
		return matched, nil
	default:
		return platform.Unresolved(), errors.NewAmbiguousStream(streamID, matches)
	}
}
