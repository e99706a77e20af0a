package platform

// CallState mirrors the call lifecycle reported by the telephony platform.
type CallState string

const (
	StateConnecting   CallState = "connecting"
	StateEstablished  CallState = "established"
	StateDisconnected CallState = "disconnected"
)

// IdentityKind enumerates the closed set of participant identity variants.
type IdentityKind string

const (
	IdentityUser        IdentityKind = "user"
	IdentityPhone       IdentityKind = "phone"
	IdentityApplication IdentityKind = "application"
	IdentityUnresolved  IdentityKind = "unresolved"
)

// Identity is a tagged participant identity. Kind selects the variant and
// Value carries the user id, phone number or application id.
type Identity struct {
	Kind  IdentityKind `json:"kind"`
	Value string       `json:"value,omitempty"`
}

// User returns a user identity.
func User(id string) Identity { return Identity{Kind: IdentityUser, Value: id} }

// Phone returns a phone-number identity.
func Phone(number string) Identity { return Identity{Kind: IdentityPhone, Value: number} }

// Application returns a calling-application identity.
func Application(id string) Identity { return Identity{Kind: IdentityApplication, Value: id} }

// Unresolved returns the identity used when a stream has no roster owner.
func Unresolved() Identity { return Identity{Kind: IdentityUnresolved} }

// SpeakerKey derives the stable artifact key for this identity. The switch
// is exhaustive over IdentityKind; an unknown kind maps to the unresolved key
// so a new platform identity type can never silently vanish.
func (id Identity) SpeakerKey() string {
	switch id.Kind {
	case IdentityUser:
		return id.Value
	case IdentityPhone:
		return id.Value
	case IdentityApplication:
		return "app-" + id.Value
	case IdentityUnresolved:
		return "unknown"
	default:
		return "unknown"
	}
}

// Resolved reports whether the identity names a known participant.
func (id Identity) Resolved() bool {
	switch id.Kind {
	case IdentityUser, IdentityPhone, IdentityApplication:
		return id.Value != ""
	default:
		return false
	}
}

// Participant is one roster entry: a stable identity plus the transient
// stream ids currently attributed to it.
type Participant struct {
	Identity  Identity `json:"identity"`
	StreamIDs []uint32 `json:"stream_ids,omitempty"`
}

// LifecycleEvent reports a call state change.
type LifecycleEvent struct {
	CallID string    `json:"call_id"`
	State  CallState `json:"state"`
}

// RosterEvent reports participants joining or leaving a call.
type RosterEvent struct {
	CallID  string        `json:"call_id"`
	Added   []Participant `json:"added,omitempty"`
	Removed []Participant `json:"removed,omitempty"`
}

// FrameEvent carries one audio frame. StreamID zero means the frame arrived
// untagged, which the platform uses for strictly two-party calls.
type FrameEvent struct {
	CallID   string `json:"call_id"`
	StreamID uint32 `json:"stream_id,omitempty"`
	Payload  []byte `json:"payload"`
}

// EventHandler receives platform lifecycle and roster events.
// Frame events are delivered separately through active frame subscriptions.
type EventHandler interface {
	HandleLifecycle(event LifecycleEvent)
	HandleRoster(event RosterEvent)
}
