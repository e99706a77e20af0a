package platform

import "context"

// FrameSink receives audio frames for one subscribed call.
type FrameSink interface {
	OnFrameReceived(streamID uint32, payload []byte)
}

// Subscription is the capability handle for one call's frame delivery.
// Cancel is idempotent; after it returns no further frames are delivered.
type Subscription interface {
	Cancel()
}

// Client is the outbound boundary to the telephony platform.
type Client interface {
	// PlaceCall asks the platform to establish a call from source to the
	// targets and returns the platform-assigned call id.
	PlaceCall(ctx context.Context, source Identity, targets []Identity) (string, error)

	// AddParticipant invites another identity into a live call.
	AddParticipant(ctx context.Context, callID string, target Identity) error

	// Hangup tears the call down on the platform side.
	Hangup(ctx context.Context, callID string) error

	// SubscribeFrames starts frame delivery for a call into sink. The
	// returned handle must be cancelled to stop delivery; cancellation is
	// synchronous, so no frame arrives after Cancel returns.
	SubscribeFrames(callID string, sink FrameSink) (Subscription, error)
}
